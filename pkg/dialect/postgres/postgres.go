package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/retry"
)

// Conn is a PostgreSQL target connection backed by a pgx pool.
type Conn struct {
	pool    *pgxpool.Pool
	catalog string
	logger  *zap.Logger
}

// New opens a pooled connection to a PostgreSQL target.
func New(ctx context.Context, desc models.ConnectionDescriptor, settings dialect.PoolSettings, logger *zap.Logger) (dialect.Conn, error) {
	sslMode := "disable"
	if desc.SSLEnabled {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		desc.Host, desc.Port, desc.Username, desc.Password, desc.Database, sslMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %s", logging.SanitizeError(err))
	}
	if settings.MaxConns > 0 {
		poolConfig.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 {
		poolConfig.MinConns = settings.MinConns
	}

	// Pool creation is retried for transient failures.
	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("create pool: %s", logging.SanitizeError(err))
	}

	return &Conn{pool: pool, catalog: desc.Database, logger: logger.Named("postgres")}, nil
}

// Ping verifies the target is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// CatalogName returns the database name.
func (c *Conn) CatalogName() string {
	return c.catalog
}

// Close releases the pool.
func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

// DiscoverTables returns user tables and views, excluding system schemas.
func (c *Conn) DiscoverTables(ctx context.Context, filter []string) ([]models.TableInfo, error) {
	query := `
		SELECT
			t.table_schema,
			t.table_name,
			t.table_type,
			COALESCE(obj_description(pc.oid, 'pg_class'), '') AS table_comment,
			COALESCE(pc.reltuples::bigint, 0) AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_namespace pn ON pn.nspname = t.table_schema
		LEFT JOIN pg_class pc ON pc.relname = t.table_name AND pc.relnamespace = pn.oid
		WHERE t.table_type IN ('BASE TABLE', 'VIEW')
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	`
	args := []any{}
	if len(filter) > 0 {
		query += " AND t.table_name = ANY($1)"
		args = append(args, filter)
	}
	query += " ORDER BY t.table_schema, t.table_name"

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []models.TableInfo
	for rows.Next() {
		var t models.TableInfo
		var tableType string
		if err := rows.Scan(&t.SchemaName, &t.Name, &tableType, &t.Comment, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Kind = models.TableKindTable
		if tableType == "VIEW" {
			t.Kind = models.TableKindView
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// DiscoverColumns returns columns for a specific table in ordinal order.
// Uses pg_index for primary key detection, which correctly identifies
// primary keys even when created as unique indexes by ORMs.
func (c *Conn) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.ColumnInfo, error) {
	const query = `
		SELECT
			col.column_name,
			col.data_type,
			COALESCE(col.character_maximum_length, 0) AS size,
			col.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			COALESCE(col_description(pc.oid, col.ordinal_position), '') AS column_comment
		FROM information_schema.columns col
		LEFT JOIN pg_namespace pn ON pn.nspname = col.table_schema
		LEFT JOIN pg_class pc ON pc.relname = col.table_name AND pc.relnamespace = pn.oid
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON col.column_name = pk.column_name
		WHERE col.table_schema = $1 AND col.table_name = $2
		ORDER BY col.ordinal_position
	`

	rows, err := c.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		col := models.ColumnInfo{SchemaName: schemaName, TableName: tableName}
		if err := rows.Scan(&col.Name, &col.TypeName, &col.Size, &col.Nullable, &col.IsPrimaryKey, &col.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

// DiscoverRelationships returns all foreign-key column pairs.
func (c *Conn) DiscoverRelationships(ctx context.Context) ([]models.RelationshipInfo, error) {
	const query = `
		SELECT
			tc.table_schema,
			tc.table_name,
			kcu.column_name,
			ccu.table_schema AS foreign_table_schema,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.table_schema, tc.table_name, kcu.column_name
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var rels []models.RelationshipInfo
	for rows.Next() {
		var src, dst models.ColumnRef
		if err := rows.Scan(&src.Schema, &src.Table, &src.Column, &dst.Schema, &dst.Table, &dst.Column); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		rels = append(rels, models.RelationshipInfo{
			SourceColumn: src,
			TargetColumn: dst,
			Role:         models.RelationshipRoleForeignKey,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return rels, nil
}

// SampleColumn draws up to sampleSize values using the given method.
func (c *Conn) SampleColumn(ctx context.Context, col models.ColumnInfo, method models.SamplingMethod, sampleSize int) ([]any, error) {
	quotedCol := pgx.Identifier{col.Name}.Sanitize()
	table := qualifiedTableName(col.SchemaName, col.TableName)

	var query string
	switch method {
	case models.SamplingMethodSystematic:
		// Every k-th row, k chosen so roughly sampleSize rows survive.
		query = fmt.Sprintf(`
			SELECT v FROM (
				SELECT %s AS v,
				       row_number() OVER () AS rn,
				       count(*) OVER () AS total
				FROM %s
			) s
			WHERE (s.rn - 1) %% GREATEST(s.total / %d, 1) = 0
			LIMIT %d`, quotedCol, table, sampleSize, sampleSize)
	case models.SamplingMethodStratified:
		// One representative per value stratum, up to sampleSize strata.
		query = fmt.Sprintf(`
			SELECT DISTINCT ON (s.bucket) s.v FROM (
				SELECT %s AS v,
				       ntile(%d) OVER (ORDER BY %s) AS bucket
				FROM %s
			) s
			ORDER BY s.bucket`, quotedCol, sampleSize, quotedCol, table)
	default: // RANDOM
		query = fmt.Sprintf(`SELECT %s FROM %s ORDER BY random() LIMIT %d`, quotedCol, table, sampleSize)
	}

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", col.Ref(), err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample value: %w", err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	return values, nil
}

// qualifiedTableName returns a properly quoted table reference.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}
