package models

import "fmt"

// SchemaInfo is an immutable snapshot of a database schema taken at the
// start of a scan. It is built fresh per scan and never reused.
type SchemaInfo struct {
	CatalogName string      `json:"catalog_name"`
	SchemaName  string      `json:"schema_name"`
	Tables      []TableInfo `json:"tables"`
}

// TotalColumns returns the number of columns across all tables.
func (s *SchemaInfo) TotalColumns() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Columns)
	}
	return n
}

// TableKind distinguishes tables from views.
type TableKind string

const (
	TableKindTable TableKind = "TABLE"
	TableKindView  TableKind = "VIEW"
)

// TableInfo describes one table in a schema snapshot.
type TableInfo struct {
	SchemaName    string             `json:"schema_name"`
	Name          string             `json:"name"`
	Kind          TableKind          `json:"kind"`
	Comment       string             `json:"comment,omitempty"`
	RowCount      int64              `json:"row_count"`
	Columns       []ColumnInfo       `json:"columns"`
	Relationships []RelationshipInfo `json:"relationships,omitempty"`
}

// ColumnInfo describes one column. A column is identified within a scan
// by (schema, table, column); ColumnRef carries that identity around so
// detection results can share columns with the snapshot without cycles.
type ColumnInfo struct {
	SchemaName   string `json:"schema_name"`
	TableName    string `json:"table_name"`
	Name         string `json:"name"`
	TypeName     string `json:"type_name"`
	Size         int    `json:"size,omitempty"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	IsForeignKey bool   `json:"is_foreign_key"`
	Comment      string `json:"comment,omitempty"`
}

// Ref returns the column's identity within the scan.
func (c ColumnInfo) Ref() ColumnRef {
	return ColumnRef{Schema: c.SchemaName, Table: c.TableName, Column: c.Name}
}

// ColumnRef identifies a column within a scan.
type ColumnRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// String renders the ref as schema.table.column.
func (r ColumnRef) String() string {
	if r.Schema == "" {
		return fmt.Sprintf("%s.%s", r.Table, r.Column)
	}
	return fmt.Sprintf("%s.%s.%s", r.Schema, r.Table, r.Column)
}

// RelationshipRole marks which side of a FK relationship a column is on.
type RelationshipRole string

const (
	RelationshipRolePrimaryKey RelationshipRole = "PK"
	RelationshipRoleForeignKey RelationshipRole = "FK"
)

// RelationshipInfo describes one side of a foreign-key relationship.
// Tables carry both imported (FK) and exported (PK) relationships.
type RelationshipInfo struct {
	SourceColumn ColumnRef        `json:"source_column"`
	TargetColumn ColumnRef        `json:"target_column"`
	Role         RelationshipRole `json:"role"`
}
