package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/retry"
)

// Conn is a SQL Server target connection backed by database/sql.
type Conn struct {
	db      *sql.DB
	catalog string
	logger  *zap.Logger
}

// New opens a pooled connection to a SQL Server target.
func New(ctx context.Context, desc models.ConnectionDescriptor, settings dialect.PoolSettings, logger *zap.Logger) (dialect.Conn, error) {
	query := url.Values{}
	query.Set("database", desc.Database)
	if desc.SSLEnabled {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(desc.Username, desc.Password),
		Host:     fmt.Sprintf("%s:%d", desc.Host, desc.Port),
		RawQuery: query.Encode(),
	}

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*sql.DB, error) {
		db, err := sql.Open("sqlserver", u.String())
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to sqlserver: %s", logging.SanitizeError(err))
	}

	if settings.MaxConns > 0 {
		db.SetMaxOpenConns(int(settings.MaxConns))
	}
	if settings.MinConns > 0 {
		db.SetMaxIdleConns(int(settings.MinConns))
	}

	return &Conn{db: db, catalog: desc.Database, logger: logger.Named("sqlserver")}, nil
}

// Ping verifies the target is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// CatalogName returns the database name.
func (c *Conn) CatalogName() string {
	return c.catalog
}

// Close releases the connection.
func (c *Conn) Close() error {
	return c.db.Close()
}

// DiscoverTables returns user tables and views, excluding system objects.
func (c *Conn) DiscoverTables(ctx context.Context, filter []string) ([]models.TableInfo, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(o.schema_id) AS table_schema,
	    o.name AS table_name,
	    o.type AS object_type,
	    COALESCE(CAST(ep.value AS NVARCHAR(4000)), '') AS table_comment,
	    COALESCE(SUM(p.rows), 0) AS row_count
	FROM sys.objects o
	LEFT JOIN sys.partitions p ON o.object_id = p.object_id AND p.index_id IN (0, 1)
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	WHERE o.type IN ('U', 'V')
	  AND o.is_ms_shipped = 0
	GROUP BY o.schema_id, o.name, o.type, CAST(ep.value AS NVARCHAR(4000))
	ORDER BY table_schema, table_name
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	allowed := make(map[string]bool, len(filter))
	for _, name := range filter {
		allowed[name] = true
	}

	var tables []models.TableInfo
	for rows.Next() {
		var t models.TableInfo
		var objectType string
		if err := rows.Scan(&t.SchemaName, &t.Name, &objectType, &t.Comment, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if len(filter) > 0 && !allowed[t.Name] {
			continue
		}
		t.Kind = models.TableKindTable
		if strings.TrimSpace(objectType) == "V" {
			t.Kind = models.TableKindView
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	return tables, nil
}

// DiscoverColumns returns columns for a specific table in ordinal order.
func (c *Conn) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.ColumnInfo, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    col.name AS column_name,
	    tp.name AS data_type,
	    col.max_length AS size,
	    CASE WHEN col.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    COALESCE(CAST(ep.value AS NVARCHAR(4000)), '') AS column_comment
	FROM sys.columns col
	INNER JOIN sys.types tp ON col.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON col.object_id = pk.object_id AND col.column_id = pk.column_id
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = col.object_id AND ep.minor_id = col.column_id AND ep.name = 'MS_Description'
	WHERE col.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY col.column_id
	`

	rows, err := c.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		col := models.ColumnInfo{SchemaName: schemaName, TableName: tableName}
		var nullable, isPK int
		if err := rows.Scan(&col.Name, &col.TypeName, &col.Size, &nullable, &isPK, &col.Comment); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col.Nullable = nullable == 1
		col.IsPrimaryKey = isPK == 1
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	return columns, nil
}

// DiscoverRelationships returns all foreign-key column pairs.
func (c *Conn) DiscoverRelationships(ctx context.Context) ([]models.RelationshipInfo, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(tp.schema_id) AS table_schema,
	    tp.name AS table_name,
	    cp.name AS column_name,
	    SCHEMA_NAME(tr.schema_id) AS foreign_table_schema,
	    tr.name AS foreign_table_name,
	    cr.name AS foreign_column_name
	FROM sys.foreign_key_columns fkc
	INNER JOIN sys.tables tp ON fkc.parent_object_id = tp.object_id
	INNER JOIN sys.columns cp ON fkc.parent_object_id = cp.object_id AND fkc.parent_column_id = cp.column_id
	INNER JOIN sys.tables tr ON fkc.referenced_object_id = tr.object_id
	INNER JOIN sys.columns cr ON fkc.referenced_object_id = cr.object_id AND fkc.referenced_column_id = cr.column_id
	ORDER BY table_schema, table_name, column_name
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var rels []models.RelationshipInfo
	for rows.Next() {
		var src, dst models.ColumnRef
		if err := rows.Scan(&src.Schema, &src.Table, &src.Column, &dst.Schema, &dst.Table, &dst.Column); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		rels = append(rels, models.RelationshipInfo{
			SourceColumn: src,
			TargetColumn: dst,
			Role:         models.RelationshipRoleForeignKey,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	return rels, nil
}

// SampleColumn draws up to sampleSize values using the given method.
func (c *Conn) SampleColumn(ctx context.Context, col models.ColumnInfo, method models.SamplingMethod, sampleSize int) ([]any, error) {
	quotedCol := quoteIdentifier(col.Name)
	table := qualifiedTableName(col.SchemaName, col.TableName)

	var query string
	switch method {
	case models.SamplingMethodSystematic:
		query = fmt.Sprintf(`
			SELECT TOP (%d) s.v FROM (
				SELECT %s AS v,
				       ROW_NUMBER() OVER (ORDER BY (SELECT NULL)) AS rn,
				       COUNT(*) OVER () AS total
				FROM %s
			) s
			WHERE (s.rn - 1) %% (CASE WHEN s.total / %d > 1 THEN s.total / %d ELSE 1 END) = 0`,
			sampleSize, quotedCol, table, sampleSize, sampleSize)
	case models.SamplingMethodStratified:
		query = fmt.Sprintf(`
			SELECT s2.v FROM (
				SELECT s.v, s.bucket,
				       ROW_NUMBER() OVER (PARTITION BY s.bucket ORDER BY (SELECT NULL)) AS rn
				FROM (
					SELECT %s AS v,
					       NTILE(%d) OVER (ORDER BY %s) AS bucket
					FROM %s
				) s
			) s2
			WHERE s2.rn = 1
			ORDER BY s2.bucket`,
			quotedCol, sampleSize, quotedCol, table)
	default: // RANDOM
		query = fmt.Sprintf(`SELECT TOP (%d) %s FROM %s ORDER BY NEWID()`, sampleSize, quotedCol, table)
	}

	rows, err := c.db.QueryContext(ctx, query)
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
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	return values, nil
}

// quoteIdentifier brackets a SQL Server identifier to prevent injection.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return quoteIdentifier(tableName)
	}
	return quoteIdentifier(schemaName) + "." + quoteIdentifier(tableName)
}
