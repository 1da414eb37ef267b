package loader

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/session"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE simple_entity (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE parent (id INTEGER PRIMARY KEY, title TEXT)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, label TEXT, parent_id INTEGER)`,
		`INSERT INTO simple_entity (id, name) VALUES (1, 'the only')`,
		`INSERT INTO parent (id, title) VALUES (1, 'first'), (2, 'second'), (3, 'third')`,
		`INSERT INTO child (id, label, parent_id) VALUES (10, 'a', 1), (11, 'b', 1), (12, 'c', 1), (20, 'd', 2)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestLoadSimpleEntityRoundTrip(t *testing.T) {
	f := newFixture(t)
	db := openSQLite(t)

	l, err := NewEntityLoader(f.registry, f.mappings, "SimpleEntity")
	require.NoError(t, err)

	results, err := l.Load(context.Background(), db, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	e := results[0].(*SimpleEntity)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, "the only", e.Name)

	results, err = l.Load(context.Background(), db, nil, 99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLoadJoinFetchBatches(t *testing.T) {
	f := newFixture(t)
	db := openSQLite(t)

	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	l, err := NewEntityLoader(f.registry, f.mappings, "Parent",
		WithJoinFetch(loadplan.NoInfluencers),
		WithBatchSize(2),
		WithTracer(provider.Tracer("test")))
	require.NoError(t, err)
	assert.True(t, l.Plan().HasCollectionFetches())

	sess := session.New(nil)
	results, err := l.Load(context.Background(), db, sess, 1, 2, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[int64]*Parent)
	for _, r := range results {
		p := r.(*Parent)
		byID[p.ID] = p
	}
	assert.Len(t, byID[1].Children, 3)
	assert.Len(t, byID[2].Children, 1)
	assert.Empty(t, byID[3].Children)
	assert.Equal(t, 7, sess.Len(), "three parents and four children")

	spans := exporter.GetSpans()
	require.Len(t, spans, 2, "one statement per batch")
	assert.Equal(t, "loom.load", spans[0].Name)

	again, err := l.Load(context.Background(), db, sess, 1)
	require.NoError(t, err)
	assert.Same(t, byID[1], again[0])
	assert.Len(t, byID[1].Children, 3, "children are not attached twice")
}

func TestLoadBatchPadding(t *testing.T) {
	f := newFixture(t)
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	l, err := NewEntityLoader(f.registry, f.mappings, "SimpleEntity", WithBatchSize(3))
	require.NoError(t, err)
	batched, err := l.SQL(3)
	require.NoError(t, err)
	single, err := l.SQL(1)
	require.NoError(t, err)

	mock.ExpectQuery(batched).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(simpleRows().AddRow(1, "a").AddRow(2, "b").AddRow(3, "c"))
	mock.ExpectQuery(single).
		WithArgs(int64(4)).
		WillReturnRows(simpleRows().AddRow(4, "d"))

	results, err := l.Load(context.Background(), db, nil, 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(batched).
		WithArgs(int64(5), int64(6), int64(6)).
		WillReturnRows(simpleRows().AddRow(5, "e").AddRow(6, "f"))
	results, err = l.Load(context.Background(), db, nil, 5, 6)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadFailures(t *testing.T) {
	f := newFixture(t)

	_, err := NewEntityLoader(f.registry, f.mappings, "Ghost")
	assert.True(t, lerrors.IsMapping(err))

	db := openSQLite(t)
	l, err := NewEntityLoader(f.registry, f.mappings, "SimpleEntity")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, db, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, lerrors.IsResourceState(err))

	results, err := l.Load(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Nil(t, results)

	closed := openSQLite(t)
	require.NoError(t, closed.Close())
	_, err = l.Load(context.Background(), closed, nil, 1)
	assert.True(t, lerrors.IsResourceState(err), "closed connection pool")
}
