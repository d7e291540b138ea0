// Package dialect abstracts the concrete target database behind a
// small interface covering schema introspection and value sampling.
// Each implementation owns its connection and must be closed when done.
package dialect

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/models"
)

// Conn is a live connection to a target database.
type Conn interface {
	// Ping verifies the database is reachable with valid credentials.
	Ping(ctx context.Context) error

	// DiscoverTables returns user tables and views, optionally limited
	// to the given allow-list of table names. Columns and relationships
	// are not populated; use DiscoverColumns and DiscoverRelationships.
	DiscoverTables(ctx context.Context, filter []string) ([]models.TableInfo, error)

	// DiscoverColumns returns columns for a specific table, in ordinal
	// position order, with comments and primary-key flags populated.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.ColumnInfo, error)

	// DiscoverRelationships returns all foreign-key relationships in
	// the database, one entry per FK column pair.
	DiscoverRelationships(ctx context.Context) ([]models.RelationshipInfo, error)

	// SampleColumn draws up to sampleSize values from a column using
	// the given method. Nulls are returned as nil entries; database-
	// returned ordering is preserved.
	SampleColumn(ctx context.Context, col models.ColumnInfo, method models.SamplingMethod, sampleSize int) ([]any, error)

	// CatalogName returns the catalog (database) name.
	CatalogName() string

	// Close releases the connection.
	Close() error
}

// PoolSettings bounds the connection pool each dialect opens.
type PoolSettings struct {
	MaxConns int32
	MinConns int32
}

// Factory opens a Conn for a connection descriptor. The descriptor
// carries the decrypted password; factories must never log it.
type Factory func(ctx context.Context, desc models.ConnectionDescriptor, settings PoolSettings, logger *zap.Logger) (Conn, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a dialect available under a driver name. Called from
// each dialect package's init.
func Register(driver string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[driver] = factory
}

// Open creates a connection using the registered factory for the
// descriptor's driver.
func Open(ctx context.Context, desc models.ConnectionDescriptor, settings PoolSettings, logger *zap.Logger) (Conn, error) {
	mu.RLock()
	factory, ok := factories[desc.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", desc.Driver)
	}
	return factory(ctx, desc, settings, logger)
}

// Supported reports whether a driver has a registered dialect.
func Supported(driver string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[driver]
	return ok
}
