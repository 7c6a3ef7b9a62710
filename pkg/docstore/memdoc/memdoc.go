// Package memdoc is an in-memory docstore for tests and single process
// deployments.
package memdoc

import (
	"context"
	"sync"
	"time"

	"github.com/driftnote/driftnote/internal/rand"
	"github.com/driftnote/driftnote/pkg/docstore"
)

// KeyLength is the length of generated document ids.
const KeyLength = 20

// Store publishes each change while holding mu, so watches see writes
// in the order they were applied.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]docstore.Document
	meta   map[string]docstore.Document
	hub    *docstore.Hub
	closed bool

	// Now stamps created_at; it defaults to time.Now.
	Now func() time.Time
}

var (
	_ docstore.Store     = (*Store)(nil)
	_ docstore.MetaStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		docs: make(map[string]docstore.Document),
		meta: make(map[string]docstore.Document),
		hub:  docstore.NewHub(),
		Now:  time.Now,
	}
}

func (s *Store) List(ctx context.Context, uid string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	out := []docstore.Document{}
	for _, doc := range s.docs {
		if doc["uid"] == uid {
			out = append(out, docstore.Clone(doc))
		}
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, uid string) (docstore.Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(uid)
}

func (s *Store) Insert(ctx context.Context, doc docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uid, _ := doc["uid"].(string)
	if uid == "" {
		return docstore.ErrNoUID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	id := rand.String(KeyLength)
	rec := docstore.Writable(doc)
	rec["id"] = id
	rec["uid"] = uid
	rec["created_at"] = s.Now().UTC()
	s.docs[id] = rec
	s.hub.Publish(uid, docstore.Change{Action: docstore.ActionCreate, ID: id, Doc: rec})
	s.mu.Unlock()
	return nil
}

func (s *Store) Merge(ctx context.Context, uid, id string, fields docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	rec, ok := s.docs[id]
	if !ok || rec["uid"] != uid {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	for k, v := range docstore.Writable(fields) {
		rec[k] = v
	}
	s.hub.Publish(uid, docstore.Change{Action: docstore.ActionUpdate, ID: id, Doc: rec})
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, uid, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	rec, ok := s.docs[id]
	if !ok || rec["uid"] != uid {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, id)
	s.hub.Publish(uid, docstore.Change{Action: docstore.ActionDelete, ID: id, Doc: rec})
	s.mu.Unlock()
	return nil
}

func (s *Store) GetMeta(ctx context.Context, uid string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return docstore.Clone(s.meta[uid]), nil
}

func (s *Store) MergeMeta(ctx context.Context, uid string, fields docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if uid == "" {
		return docstore.ErrNoUID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.meta[uid]
	if !ok {
		rec = docstore.Document{}
		s.meta[uid] = rec
	}
	for k, v := range docstore.Clone(fields) {
		rec[k] = v
	}
	return nil
}

// Close ends every watch. Further calls fail with ErrClosed.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

// Watches returns the number of open watches.
func (s *Store) Watches() int {
	return s.hub.Watches()
}
