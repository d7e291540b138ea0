package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/models"
)

type schemaConn struct {
	tables    []models.TableInfo
	columns   map[string][]models.ColumnInfo
	rels      []models.RelationshipInfo
	tablesErr error
	colsErr   error
}

func (c *schemaConn) Ping(context.Context) error { return nil }

func (c *schemaConn) DiscoverTables(_ context.Context, filter []string) ([]models.TableInfo, error) {
	if c.tablesErr != nil {
		return nil, c.tablesErr
	}
	if len(filter) == 0 {
		return append([]models.TableInfo(nil), c.tables...), nil
	}
	allowed := make(map[string]bool)
	for _, f := range filter {
		allowed[f] = true
	}
	var out []models.TableInfo
	for _, t := range c.tables {
		if allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *schemaConn) DiscoverColumns(_ context.Context, _, table string) ([]models.ColumnInfo, error) {
	if c.colsErr != nil {
		return nil, c.colsErr
	}
	return append([]models.ColumnInfo(nil), c.columns[table]...), nil
}

func (c *schemaConn) DiscoverRelationships(context.Context) ([]models.RelationshipInfo, error) {
	return append([]models.RelationshipInfo(nil), c.rels...), nil
}

func (c *schemaConn) SampleColumn(context.Context, models.ColumnInfo, models.SamplingMethod, int) ([]any, error) {
	return nil, nil
}
func (c *schemaConn) CatalogName() string { return "shop" }
func (c *schemaConn) Close() error        { return nil }

func col(table, name string) models.ColumnInfo {
	return models.ColumnInfo{SchemaName: "public", TableName: table, Name: name}
}

func ref(table, name string) models.ColumnRef {
	return models.ColumnRef{Schema: "public", Table: table, Column: name}
}

// shopConn models orders.customer_id -> customers.id.
func shopConn() *schemaConn {
	return &schemaConn{
		tables: []models.TableInfo{
			{SchemaName: "public", Name: "orders", Kind: models.TableKindTable, RowCount: 500},
			{SchemaName: "public", Name: "customers", Kind: models.TableKindTable, RowCount: 100},
		},
		columns: map[string][]models.ColumnInfo{
			"customers": {col("customers", "id"), col("customers", "email")},
			"orders":    {col("orders", "id"), col("orders", "customer_id")},
		},
		rels: []models.RelationshipInfo{
			{
				SourceColumn: ref("orders", "customer_id"),
				TargetColumn: ref("customers", "id"),
				Role:         models.RelationshipRoleForeignKey,
			},
		},
	}
}

func TestExtract_BuildsSnapshot(t *testing.T) {
	schema, err := NewExtractor(zap.NewNop()).Extract(context.Background(), shopConn(), nil)
	require.NoError(t, err)

	assert.Equal(t, "shop", schema.CatalogName)
	require.Len(t, schema.Tables, 2)
	// Deterministic (schema, table) ordering regardless of discovery order.
	assert.Equal(t, "customers", schema.Tables[0].Name)
	assert.Equal(t, "orders", schema.Tables[1].Name)
	assert.Equal(t, 4, schema.TotalColumns())
}

func TestExtract_FlagsForeignKeyColumns(t *testing.T) {
	schema, err := NewExtractor(zap.NewNop()).Extract(context.Background(), shopConn(), nil)
	require.NoError(t, err)

	var customerID models.ColumnInfo
	for _, c := range schema.Tables[1].Columns {
		if c.Name == "customer_id" {
			customerID = c
		}
	}
	assert.True(t, customerID.IsForeignKey, "FK source column must be flagged")

	for _, c := range schema.Tables[0].Columns {
		assert.False(t, c.IsForeignKey, "PK side column %s must not be FK-flagged", c.Name)
	}
}

func TestExtract_RelationshipsBothDirections(t *testing.T) {
	schema, err := NewExtractor(zap.NewNop()).Extract(context.Background(), shopConn(), nil)
	require.NoError(t, err)

	customers := schema.Tables[0]
	orders := schema.Tables[1]

	require.Len(t, orders.Relationships, 1)
	assert.Equal(t, models.RelationshipRoleForeignKey, orders.Relationships[0].Role)
	assert.Equal(t, ref("customers", "id"), orders.Relationships[0].TargetColumn)

	require.Len(t, customers.Relationships, 1)
	assert.Equal(t, models.RelationshipRolePrimaryKey, customers.Relationships[0].Role)
	assert.Equal(t, ref("orders", "customer_id"), customers.Relationships[0].SourceColumn)
}

func TestExtract_TargetTableFilter(t *testing.T) {
	schema, err := NewExtractor(zap.NewNop()).Extract(context.Background(), shopConn(), []string{"customers"})
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "customers", schema.Tables[0].Name)
}

func TestExtract_FailureAbortsWholeSnapshot(t *testing.T) {
	conn := shopConn()
	conn.colsErr = errors.New("permission denied for relation orders")

	schema, err := NewExtractor(zap.NewNop()).Extract(context.Background(), conn, nil)
	assert.Nil(t, schema, "no partial snapshot on failure")
	assert.ErrorIs(t, err, apperrors.ErrMetadata)

	conn = shopConn()
	conn.tablesErr = errors.New("connection reset")
	_, err = NewExtractor(zap.NewNop()).Extract(context.Background(), conn, nil)
	assert.ErrorIs(t, err, apperrors.ErrMetadata)
}
