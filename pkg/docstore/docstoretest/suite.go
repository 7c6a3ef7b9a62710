// Package docstoretest holds the behaviour every docstore implementation
// must share, as a testify suite.
package docstoretest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/driftnote/driftnote/pkg/docstore"
)

// Factory opens an empty store. The returned cleanup runs after each test.
type Factory func() (docstore.Store, docstore.MetaStore, func())

type StoreSuite struct {
	suite.Suite
	Open Factory

	store   docstore.Store
	meta    docstore.MetaStore
	cleanup func()
}

func (s *StoreSuite) SetupTest() {
	s.store, s.meta, s.cleanup = s.Open()
}

func (s *StoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func (s *StoreSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *StoreSuite) byTitle(docs []docstore.Document) map[string]docstore.Document {
	out := map[string]docstore.Document{}
	for _, d := range docs {
		title, _ := d["title"].(string)
		out[title] = d
	}
	return out
}

func (s *StoreSuite) TestInsertAssignsIDAndCreatedAt() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{
		"uid":   "u1",
		"title": "first",
		"tags":  []any{"a", "b"},
	}))

	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)

	doc := docs[0]
	s.NotEmpty(doc["id"])
	s.Equal("u1", doc["uid"])
	s.Equal("first", doc["title"])
	s.Equal([]any{"a", "b"}, doc["tags"])
	s.IsType(time.Time{}, doc["created_at"])
}

func (s *StoreSuite) TestListFiltersByUID() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "mine"}))
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u2", "title": "theirs"}))

	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("mine", docs[0]["title"])

	docs, err = s.store.List(ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *StoreSuite) TestInsertRequiresUID() {
	s.ErrorIs(s.store.Insert(s.ctx(), docstore.Document{"title": "orphan"}), docstore.ErrNoUID)
}

func (s *StoreSuite) TestMergeKeepsAbsentFields() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{
		"uid": "u1", "title": "T", "content": "C", "is_favorite": false,
	}))
	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	id := s.id(docs[0])
	createdAt := docs[0]["created_at"]

	s.Require().NoError(s.store.Merge(ctx, "u1", id, docstore.Document{
		"is_favorite": true,
		"created_at":  time.Unix(0, 0).UTC(),
	}))

	docs, err = s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal(true, docs[0]["is_favorite"])
	s.Equal("T", docs[0]["title"])
	s.Equal("C", docs[0]["content"])
	s.Equal(createdAt, docs[0]["created_at"])
}

func (s *StoreSuite) TestConcurrentMergesKeepEveryField() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "T"}))
	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	id := s.id(docs[0])

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Merge(ctx, "u1", id, docstore.Document{
				fmt.Sprintf("field%d", i): fmt.Sprintf("value%d", i),
			}))
		}(i)
	}
	wg.Wait()

	docs, err = s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("T", docs[0]["title"])
	for i := 0; i < writers; i++ {
		s.Equal(fmt.Sprintf("value%d", i), docs[0][fmt.Sprintf("field%d", i)], "field%d", i)
	}
}

func (s *StoreSuite) TestMergeOtherUsersDocument() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "T"}))
	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)

	err = s.store.Merge(ctx, "u2", s.id(docs[0]), docstore.Document{"title": "stolen"})
	s.ErrorIs(err, docstore.ErrNotFound)

	docs, err = s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Equal("T", docs[0]["title"])
}

func (s *StoreSuite) TestDeleteIsIdempotent() {
	ctx := s.ctx()
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "gone"}))
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "kept"}))
	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	id := s.id(s.byTitle(docs)["gone"])

	s.Require().NoError(s.store.Delete(ctx, "u1", id))
	s.Require().NoError(s.store.Delete(ctx, "u1", id))
	s.Require().NoError(s.store.Delete(ctx, "u1", "missing"))

	docs, err = s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("kept", docs[0]["title"])
}

func (s *StoreSuite) TestWatchDeliversChanges() {
	ctx := s.ctx()
	w, err := s.store.Watch(ctx, "u1")
	s.Require().NoError(err)
	defer func() { _ = w.Stop(context.Background()) }()

	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u2", "title": "other"}))
	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "mine"}))

	created := s.next(w)
	s.Equal(docstore.ActionCreate, created.Action)
	s.Equal("mine", created.Doc["title"])
	s.NotEmpty(created.ID)

	s.Require().NoError(s.store.Merge(ctx, "u1", created.ID, docstore.Document{"title": "renamed"}))
	updated := s.next(w)
	s.Equal(docstore.ActionUpdate, updated.Action)
	s.Equal(created.ID, updated.ID)
	s.Equal("renamed", updated.Doc["title"])

	s.Require().NoError(s.store.Delete(ctx, "u1", created.ID))
	deleted := s.next(w)
	s.Equal(docstore.ActionDelete, deleted.Action)
	s.Equal(created.ID, deleted.ID)
}

func (s *StoreSuite) TestWatchOrderMatchesWrites() {
	ctx := s.ctx()
	w, err := s.store.Watch(ctx, "u1")
	s.Require().NoError(err)
	defer func() { _ = w.Stop(context.Background()) }()

	s.Require().NoError(s.store.Insert(ctx, docstore.Document{"uid": "u1", "title": "start"}))
	id := s.next(w).ID

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Merge(ctx, "u1", id, docstore.Document{"title": fmt.Sprintf("t%d", i)}))
		}(i)
	}
	wg.Wait()

	var last docstore.Change
	for i := 0; i < writers; i++ {
		last = s.next(w)
		s.Equal(docstore.ActionUpdate, last.Action)
	}

	docs, err := s.store.List(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal(docs[0]["title"], last.Doc["title"])
}

func (s *StoreSuite) TestWatchStop() {
	ctx := s.ctx()
	w, err := s.store.Watch(ctx, "u1")
	s.Require().NoError(err)

	s.Require().NoError(w.Stop(ctx))
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		s.Fail("watch not done after Stop")
	}
	s.NoError(w.Err())
	s.Require().NoError(w.Stop(ctx))
}

func (s *StoreSuite) TestMeta() {
	ctx := s.ctx()
	doc, err := s.meta.GetMeta(ctx, "u1")
	s.Require().NoError(err)
	s.Nil(doc)

	s.Require().NoError(s.meta.MergeMeta(ctx, "u1", docstore.Document{"backup_folder_id": "F1"}))
	s.Require().NoError(s.meta.MergeMeta(ctx, "u1", docstore.Document{
		"last_backup": map[string]any{"file_name": "backup.json"},
	}))

	doc, err = s.meta.GetMeta(ctx, "u1")
	s.Require().NoError(err)
	s.Equal("F1", doc["backup_folder_id"])
	s.Equal("backup.json", doc["last_backup"].(map[string]any)["file_name"])

	s.Require().NoError(s.meta.MergeMeta(ctx, "u1", docstore.Document{"backup_folder_id": "F2"}))
	doc, err = s.meta.GetMeta(ctx, "u1")
	s.Require().NoError(err)
	s.Equal("F2", doc["backup_folder_id"])
	s.Equal("backup.json", doc["last_backup"].(map[string]any)["file_name"])

	other, err := s.meta.GetMeta(ctx, "u2")
	s.Require().NoError(err)
	s.Nil(other)
}

func (s *StoreSuite) next(w docstore.Watch) docstore.Change {
	select {
	case c := <-w.Changes():
		return c
	case <-w.Done():
		s.FailNow("watch ended", "%v", w.Err())
	case <-time.After(5 * time.Second):
		s.FailNow("no change delivered")
	}
	return docstore.Change{}
}

func (s *StoreSuite) id(doc docstore.Document) string {
	id, ok := doc["id"].(string)
	s.Require().True(ok, "id must be a string, got %T", doc["id"])
	return id
}
