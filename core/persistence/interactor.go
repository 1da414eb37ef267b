package persistence

import (
	"context"

	"github.com/asaidimu/go-loom/core/loader"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
)

// InteractorOptions provides configuration for the interactor.
type InteractorOptions struct {
	// IfNotExists adds IF NOT EXISTS clause to CREATE TABLE statements.
	IfNotExists bool

	// DropIfExists drops the table before creating it.
	DropIfExists bool

	// CreateIndexes creates the non-primary indexes of the schema along with
	// the table.
	CreateIndexes bool

	// TablePrefix is prepended to every table name.
	TablePrefix string
}

// DefaultInteractorOptions creates missing tables with their indexes and
// leaves existing tables alone.
func DefaultInteractorOptions() *InteractorOptions {
	return &InteractorOptions{
		IfNotExists:   true,
		CreateIndexes: true,
	}
}

// DatabaseInteractor is the storage backend of a Persistence. Tables are
// described by entity persisters, so the interactor and the loader agree on
// table and column names.
//
// An interactor returned by StartTransaction runs every operation, loads
// included, inside that transaction. Commit and Rollback are only meaningful
// on such an instance.
type DatabaseInteractor interface {
	loader.Querier

	// Dialect renders identifiers and placeholders for the loader.
	Dialect() loader.Dialect

	// CreateCollection creates the table, and optionally the indexes, of an
	// entity.
	CreateCollection(ctx context.Context, p *metadata.EntityPersister) error

	// DropCollection drops the entity's table if it exists.
	DropCollection(ctx context.Context, p *metadata.EntityPersister) error

	// CollectionExists checks if the entity's table exists.
	CollectionExists(ctx context.Context, p *metadata.EntityPersister) (bool, error)

	// SelectDocuments reads every row of the entity's table, keyed by
	// property name.
	SelectDocuments(ctx context.Context, p *metadata.EntityPersister) ([]schema.Document, error)

	// InsertDocuments writes the records and reports how many rows were
	// inserted.
	InsertDocuments(ctx context.Context, p *metadata.EntityPersister, records []schema.Document) (int64, error)

	// DeleteDocuments removes every row of the entity's table.
	DeleteDocuments(ctx context.Context, p *metadata.EntityPersister) (int64, error)

	StartTransaction(ctx context.Context) (DatabaseInteractor, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
