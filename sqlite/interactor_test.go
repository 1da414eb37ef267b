package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const articleSchema = `{
	"name": "Article",
	"fields": {
		"id": {"type": "integer"},
		"title": {"type": "string", "required": true},
		"status": {"type": "enum", "values": ["draft", "published"], "default": "draft"},
		"published": {"type": "boolean"},
		"score": {"type": "number"},
		"tags": {"type": "array"},
		"meta": {"type": "record"}
	},
	"indexes": [
		{"fields": ["id"], "type": "primary"},
		{"name": "article_title", "fields": ["title"], "type": "unique"}
	]
}`

func setupInteractor(t *testing.T) (*SQLiteInteractor, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteInteractor(db, zap.NewNop(), nil, nil), db
}

func articlePersister(t *testing.T) *metadata.EntityPersister {
	t.Helper()
	sc, err := schema.Parse([]byte(articleSchema), schema.FormatJSON)
	require.NoError(t, err)
	p, err := metadata.NewEntityPersister(sc)
	require.NoError(t, err)
	return p
}

func TestCreateTableSQL(t *testing.T) {
	i, _ := setupInteractor(t)
	stmt, err := i.CreateTableSQL(articlePersister(t))
	require.NoError(t, err)

	expected := `CREATE TABLE IF NOT EXISTS "article" (
    "id" INTEGER,
    "meta" TEXT,
    "published" INTEGER,
    "score" REAL,
    "status" TEXT DEFAULT 'draft' CHECK("status" IN ('draft', 'published')),
    "tags" TEXT,
    "title" TEXT NOT NULL,
    PRIMARY KEY ("id")
);`
	assert.Equal(t, expected, stmt)

	p := articlePersister(t)
	index, err := i.CreateIndexSQL(p, p.Schema().Indexes[1])
	require.NoError(t, err)
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "article_title" ON "article" ("title");`, index)

	primary, err := i.CreateIndexSQL(p, p.Schema().Indexes[0])
	require.NoError(t, err)
	assert.Empty(t, primary)
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	i, _ := setupInteractor(t)
	p := articlePersister(t)

	exists, err := i.CollectionExists(ctx, p)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, i.CreateCollection(ctx, p))
	exists, err = i.CollectionExists(ctx, p)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, i.CreateCollection(ctx, p), "IF NOT EXISTS makes creation idempotent")

	require.NoError(t, i.DropCollection(ctx, p))
	exists, err = i.CollectionExists(ctx, p)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDocumentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	i, _ := setupInteractor(t)
	p := articlePersister(t)
	require.NoError(t, i.CreateCollection(ctx, p))

	n, err := i.InsertDocuments(ctx, p, []schema.Document{
		{"id": 1, "title": "first", "published": true, "score": 4.5, "tags": []any{"go", "sql"}, "meta": map[string]any{"lang": "en"}},
		{"id": 2, "title": "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	docs, err := i.SelectDocuments(ctx, p)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byID := map[int64]schema.Document{}
	for _, d := range docs {
		byID[d["id"].(int64)] = d
	}
	assert.Equal(t, schema.Document{
		"id": int64(1), "title": "first", "status": "draft", "published": true, "score": 4.5,
		"tags": []any{"go", "sql"}, "meta": map[string]any{"lang": "en"},
	}, byID[1])
	assert.Equal(t, "draft", byID[2]["status"])
	assert.Nil(t, byID[2]["published"])

	_, err = i.InsertDocuments(ctx, p, []schema.Document{{"id": 3, "nope": 1}})
	assert.ErrorContains(t, err, "not found in schema")

	deleted, err := i.DeleteDocuments(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	i, _ := setupInteractor(t)
	p := articlePersister(t)
	require.NoError(t, i.CreateCollection(ctx, p))

	assert.Error(t, i.Commit(ctx))
	assert.Error(t, i.Rollback(ctx))

	tx, err := i.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.StartTransaction(ctx)
	assert.Error(t, err, "nested transactions are rejected")

	_, err = tx.InsertDocuments(ctx, p, []schema.Document{{"id": 1, "title": "rolled back"}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	docs, err := i.SelectDocuments(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, docs)

	tx, err = i.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.InsertDocuments(ctx, p, []schema.Document{{"id": 1, "title": "kept"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	docs, err = i.SelectDocuments(ctx, p)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "kept", docs[0]["title"])
}

func TestTablePrefix(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	opts := persistence.DefaultInteractorOptions()
	opts.TablePrefix = "app_"
	i := NewSQLiteInteractor(db, nil, opts, nil)
	p := articlePersister(t)
	require.NoError(t, i.CreateCollection(ctx, p))

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table'").Scan(&name))
	assert.Equal(t, "app_article", name)
	assert.Equal(t, "sqlite", i.Dialect().Name())
	assert.Equal(t, `"a""b"`, i.Dialect().QuoteIdentifier(`a"b`))
}
