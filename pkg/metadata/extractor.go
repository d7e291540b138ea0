// Package metadata builds per-scan schema snapshots.
package metadata

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/models"
)

// Extractor introspects a target database into a SchemaInfo snapshot.
// Extraction is all-or-nothing: any underlying read failure aborts with
// a metadata error and no partial snapshot is returned.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a metadata extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("metadata")}
}

// Extract enumerates tables matching filter (or all tables when filter
// is empty), then fetches columns, comments, primary keys, and foreign
// keys in both directions. Tables are returned in (catalog, schema,
// table) codepoint order so downstream sampling is reproducible.
func (e *Extractor) Extract(ctx context.Context, conn dialect.Conn, filter []string) (*models.SchemaInfo, error) {
	tables, err := conn.DiscoverTables(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: discover tables: %s", apperrors.ErrMetadata, err)
	}

	rels, err := conn.DiscoverRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: discover relationships: %s", apperrors.ErrMetadata, err)
	}

	// Index relationships by owning table, both directions. The FK side
	// imports the relationship; the PK side exports it.
	imported := make(map[[2]string][]models.RelationshipInfo)
	exported := make(map[[2]string][]models.RelationshipInfo)
	fkColumns := make(map[models.ColumnRef]bool)
	for _, rel := range rels {
		srcKey := [2]string{rel.SourceColumn.Schema, rel.SourceColumn.Table}
		dstKey := [2]string{rel.TargetColumn.Schema, rel.TargetColumn.Table}
		imported[srcKey] = append(imported[srcKey], rel)
		exported[dstKey] = append(exported[dstKey], models.RelationshipInfo{
			SourceColumn: rel.SourceColumn,
			TargetColumn: rel.TargetColumn,
			Role:         models.RelationshipRolePrimaryKey,
		})
		fkColumns[rel.SourceColumn] = true
	}

	for i := range tables {
		t := &tables[i]
		columns, err := conn.DiscoverColumns(ctx, t.SchemaName, t.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: discover columns for %s.%s: %s", apperrors.ErrMetadata, t.SchemaName, t.Name, err)
		}
		for j := range columns {
			if fkColumns[columns[j].Ref()] {
				columns[j].IsForeignKey = true
			}
		}
		t.Columns = columns

		key := [2]string{t.SchemaName, t.Name}
		t.Relationships = append(imported[key], exported[key]...)
	}

	// Deterministic table order regardless of dialect collation.
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].SchemaName != tables[j].SchemaName {
			return tables[i].SchemaName < tables[j].SchemaName
		}
		return tables[i].Name < tables[j].Name
	})

	schema := &models.SchemaInfo{
		CatalogName: conn.CatalogName(),
		Tables:      tables,
	}
	if len(tables) > 0 {
		schema.SchemaName = tables[0].SchemaName
	}

	e.logger.Info("schema snapshot extracted",
		zap.String("catalog", schema.CatalogName),
		zap.Int("tables", len(tables)),
		zap.Int("columns", schema.TotalColumns()))

	return schema, nil
}
