package memdoc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/docstore/docstoretest"
	"github.com/driftnote/driftnote/pkg/docstore/memdoc"
)

func TestStoreContract(t *testing.T) {
	suite.Run(t, &docstoretest.StoreSuite{
		Open: func() (docstore.Store, docstore.MetaStore, func()) {
			s := memdoc.New()
			return s, s, func() { _ = s.Close(context.Background()) }
		},
	})
}

func TestCloseEndsWatches(t *testing.T) {
	ctx := context.Background()
	s := memdoc.New()
	w, err := s.Watch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Watches())

	require.NoError(t, s.Close(ctx))
	<-w.Done()
	assert.ErrorIs(t, w.Err(), docstore.ErrClosed)
	assert.ErrorIs(t, s.Insert(ctx, docstore.Document{"uid": "u1"}), docstore.ErrClosed)
	_, err = s.Watch(ctx, "u1")
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func TestStampedCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := memdoc.New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return at }

	require.NoError(t, s.Insert(ctx, docstore.Document{"uid": "u1", "created_at": "ignored"}))
	docs, err := s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, at, docs[0]["created_at"])
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memdoc.New()
	require.NoError(t, s.Insert(ctx, docstore.Document{"uid": "u1", "tags": []any{"a"}}))

	docs, err := s.List(ctx, "u1")
	require.NoError(t, err)
	docs[0]["tags"].([]any)[0] = "changed"

	docs, err = s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, docs[0]["tags"])
}

func TestMergeMetaCopiesFields(t *testing.T) {
	ctx := context.Background()
	s := memdoc.New()
	last := map[string]any{"file_name": "backup.json"}
	require.NoError(t, s.MergeMeta(ctx, "u1", docstore.Document{"last_backup": last}))

	last["file_name"] = "changed.json"

	doc, err := s.GetMeta(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "backup.json", doc["last_backup"].(map[string]any)["file_name"])
}

func TestPublishDoesNotWaitForReaders(t *testing.T) {
	ctx := context.Background()
	s := memdoc.New()
	w, err := s.Watch(ctx, "u1")
	require.NoError(t, err)
	defer w.Stop(ctx)

	const writes = docstore.WatchBuffer * 3
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			assert.NoError(t, s.Insert(ctx, docstore.Document{"uid": "u1"}))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writes blocked on an unread watch")
	}

	docs, err := s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, docs, writes)
	for i := 0; i < writes; i++ {
		select {
		case c := <-w.Changes():
			assert.Equal(t, docstore.ActionCreate, c.Action)
		case <-time.After(5 * time.Second):
			t.Fatalf("change %d not delivered", i)
		}
	}
}
