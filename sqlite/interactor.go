// Package sqlite implements persistence.DatabaseInteractor for SQLite
// databases. Tables are derived from entity persisters, so the rows it writes
// are the rows the entity loaders read back.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asaidimu/go-loom/core/loader"
	"github.com/asaidimu/go-loom/core/mapping"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// dbRunner abstracts the common methods of *sql.DB and *sql.Tx, so the same
// code serves transactional and non-transactional operations.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect renders SQLite identifiers and placeholders for the entity loader.
type Dialect struct {
	loader.StandardDialect
}

func (Dialect) Name() string { return "sqlite" }

// SQLiteInteractor is the SQLite DatabaseInteractor. It runs against the
// connection pool, or against a transaction when created by StartTransaction.
type SQLiteInteractor struct {
	db      *sql.DB
	tx      *sql.Tx
	logger  *zap.Logger
	options *persistence.InteractorOptions
}

var _ persistence.DatabaseInteractor = (*SQLiteInteractor)(nil)

// NewSQLiteInteractor creates an interactor over db. A non-nil tx makes it
// transactional.
func NewSQLiteInteractor(db *sql.DB, logger *zap.Logger, options *persistence.InteractorOptions, tx *sql.Tx) *SQLiteInteractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = persistence.DefaultInteractorOptions()
	}
	return &SQLiteInteractor{
		db:      db,
		tx:      tx,
		options: options,
		logger:  logger,
	}
}

func (i *SQLiteInteractor) runner() dbRunner {
	if i.tx != nil {
		return i.tx
	}
	return i.db
}

// Dialect returns the SQLite dialect.
func (i *SQLiteInteractor) Dialect() loader.Dialect { return Dialect{} }

// QueryContext runs a statement produced by an entity loader. Loader
// statements name tables without the configured prefix, so prefixed
// interactors only serve the document operations.
func (i *SQLiteInteractor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	i.logger.Debug("Executing SQL query", zap.String("sql", query), zap.Any("params", args))
	return i.runner().QueryContext(ctx, query, args...)
}

// readRows reads every row into a document keyed by property name, coercing
// values to the property types.
func readRows(logger *zap.Logger, p *metadata.EntityPersister, rows *sql.Rows) ([]schema.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	byName := make(map[string]metadata.Column, p.ColumnCount())
	for _, col := range p.Columns() {
		byName[col.Name] = col
	}

	results := make([]schema.Document, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(schema.Document, len(columns))
		for i, name := range columns {
			col, ok := byName[name]
			if !ok {
				logger.Warn("Column not mapped by entity, skipping", zap.String("entity", p.EntityName()), zap.String("column", name))
				continue
			}
			v, err := mapping.Coerce(values[i], col.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			row[col.Property] = v
		}
		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

// SelectDocuments reads the whole table of an entity.
func (i *SQLiteInteractor) SelectDocuments(ctx context.Context, p *metadata.EntityPersister) ([]schema.Document, error) {
	sqlQuery := i.selectAllSQL(p)
	i.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery))

	rows, err := i.runner().QueryContext(ctx, sqlQuery)
	if err != nil {
		i.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()
	return readRows(i.logger, p, rows)
}

// InsertDocuments inserts all records in one statement.
func (i *SQLiteInteractor) InsertDocuments(ctx context.Context, p *metadata.EntityPersister, records []schema.Document) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	sqlQuery, queryParams, err := i.insertSQL(p, records)
	if err != nil {
		return 0, fmt.Errorf("failed to generate INSERT SQL: %w", err)
	}

	i.logger.Debug("Executing SQL INSERT", zap.String("sql", sqlQuery), zap.Any("params", queryParams))

	result, err := i.runner().ExecContext(ctx, sqlQuery, queryParams...)
	if err != nil {
		i.logger.Error("Failed to execute INSERT query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute INSERT query: %w", err)
	}
	return result.RowsAffected()
}

// DeleteDocuments empties the table of an entity.
func (i *SQLiteInteractor) DeleteDocuments(ctx context.Context, p *metadata.EntityPersister) (int64, error) {
	sqlQuery := fmt.Sprintf("DELETE FROM %s;", i.getTableName(p.TableName()))
	i.logger.Debug("Executing SQL DELETE", zap.String("sql", sqlQuery))

	result, err := i.runner().ExecContext(ctx, sqlQuery)
	if err != nil {
		i.logger.Error("Failed to execute DELETE query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute DELETE query: %w", err)
	}
	return result.RowsAffected()
}

// StartTransaction begins a transaction and returns an interactor scoped to it.
func (i *SQLiteInteractor) StartTransaction(ctx context.Context) (persistence.DatabaseInteractor, error) {
	if i.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional interactor")
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	i.logger.Debug("Transaction initiated, returning new transactional interactor")
	return NewSQLiteInteractor(i.db, i.logger, i.options, tx), nil
}

// Commit commits the current transaction.
func (i *SQLiteInteractor) Commit(ctx context.Context) error {
	if i.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	i.logger.Debug("Committing transaction")
	return i.tx.Commit()
}

// Rollback rolls back the current transaction.
func (i *SQLiteInteractor) Rollback(ctx context.Context) error {
	if i.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	i.logger.Debug("Rolling back transaction")
	return i.tx.Rollback()
}
