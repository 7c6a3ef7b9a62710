package surreal_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/driftnote/driftnote/internal/fakedocdb"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/docstore/docstoretest"
	"github.com/driftnote/driftnote/pkg/docstore/surreal"
	"github.com/driftnote/driftnote/pkg/logger"
)

func open(t *testing.T, server *fakedocdb.Server) *surreal.Store {
	t.Helper()
	store, err := surreal.Open(context.Background(), surreal.Config{
		URL:       server.URL(),
		Namespace: "driftnote",
		Database:  "test",
		User:      server.User,
		Pass:      server.Pass,
		Logger:    logger.Discard(),
		Retryer:   connection.NewFixedDelayRetryer(10*time.Millisecond, 3),
	})
	require.NoError(t, err)
	return store
}

func TestStoreContract(t *testing.T) {
	suite.Run(t, &docstoretest.StoreSuite{
		Open: func() (docstore.Store, docstore.MetaStore, func()) {
			server := fakedocdb.NewServer("127.0.0.1:0")
			if err := server.Start(); err != nil {
				t.Fatal(err)
			}
			store := open(t, server)
			return store, store, func() {
				_ = store.Close(context.Background())
				_ = server.Stop()
			}
		},
	})
}

func startServer(t *testing.T) *fakedocdb.Server {
	t.Helper()
	server := fakedocdb.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func TestMigrate(t *testing.T) {
	server := startServer(t)
	store := open(t, server)
	defer store.Close(context.Background())

	require.NoError(t, store.Migrate(context.Background()))

	defs := server.Definitions()
	require.Len(t, defs, 5)
	assert.Contains(t, defs, "DEFINE FIELD IF NOT EXISTS created_at ON note TYPE datetime DEFAULT time::now() READONLY")
	assert.True(t, strings.HasPrefix(defs[3], "DEFINE INDEX"))
}

func TestInsertStampsCreatedAtWithoutMigrate(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := surreal.Open(ctx, surreal.Config{
		URL:       server.URL(),
		Namespace: "driftnote",
		Database:  "test",
		User:      server.User,
		Pass:      server.Pass,
		Logger:    logger.Discard(),
		Retryer:   connection.NewFixedDelayRetryer(10*time.Millisecond, 3),
		Now:       func() time.Time { return at },
	})
	require.NoError(t, err)
	defer store.Close(ctx)

	require.Empty(t, server.Definitions())
	require.NoError(t, store.Insert(ctx, docstore.Document{"uid": "u1", "title": "T", "created_at": "ignored"}))

	docs, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, at, docs[0]["created_at"])
}

func TestOpenFailsWithBadCredentials(t *testing.T) {
	server := startServer(t)
	_, err := surreal.Open(context.Background(), surreal.Config{
		URL:       server.URL(),
		Namespace: "driftnote",
		Database:  "test",
		User:      "root",
		Pass:      "nope",
		Logger:    logger.Discard(),
		Retryer:   connection.NewFixedDelayRetryer(time.Millisecond, 2),
	})
	require.Error(t, err)
	assert.Equal(t, 3, server.Requests("signin"))
}

func TestOpenRequiresNamespace(t *testing.T) {
	_, err := surreal.Open(context.Background(), surreal.Config{URL: "ws://127.0.0.1:1"})
	require.Error(t, err)
}

func TestReconnectAfterDrop(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	store := open(t, server)
	defer store.Close(ctx)

	require.NoError(t, store.Insert(ctx, docstore.Document{"uid": "u1", "title": "kept"}))

	w, err := store.Watch(ctx, "u1")
	require.NoError(t, err)

	server.DropConnections()

	select {
	case <-w.Done():
		assert.ErrorIs(t, w.Err(), connection.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after the connection dropped")
	}
	require.NoError(t, w.Stop(ctx))

	require.Eventually(t, func() bool {
		docs, err := store.List(ctx, "u1")
		return err == nil && len(docs) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, server.Requests("use"))
}

func TestDocumentsUseRecordKeys(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	server.Put("note", "abc", map[string]any{"uid": "u1", "title": "seeded"})
	store := open(t, server)
	defer store.Close(ctx)

	docs, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "abc", docs[0]["id"])

	require.NoError(t, store.Merge(ctx, "u1", "abc", docstore.Document{"title": "edited"}))
	assert.Equal(t, "edited", server.Records("note")[0]["title"])
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	server := startServer(t)
	store := open(t, server)
	require.NoError(t, store.Close(ctx))

	_, err := store.List(ctx, "u1")
	assert.ErrorIs(t, err, docstore.ErrClosed)
}
