// Package docstore defines the document collection the synchronizer and
// the backup resolver talk to. Documents use wire field names.
package docstore

import (
	"context"
	"errors"

	"github.com/driftnote/driftnote/pkg/models"
)

// Document is a stored document keyed by wire field names.
type Document = map[string]any

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("store closed")
	ErrNoUID    = errors.New("uid is required")
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Change is one document change delivered by a Watch.
type Change struct {
	Action Action
	ID     string
	// Doc is the full document after the change; for deletes it is the
	// last known state and may be nil.
	Doc Document
}

// Watch is a standing query over the documents of one uid.
//
// Changes is never closed; Done is closed once the watch has ended, by
// Stop or because the store lost its connection. Err reports why.
type Watch interface {
	Changes() <-chan Change
	Done() <-chan struct{}
	Err() error
	Stop(ctx context.Context) error
}

// Store is the note collection.
type Store interface {
	// List returns every document whose uid matches.
	List(ctx context.Context, uid string) ([]Document, error)
	// Watch starts a standing query over the documents of uid.
	Watch(ctx context.Context, uid string) (Watch, error)
	// Insert writes a new document; the store assigns id and created_at.
	Insert(ctx context.Context, doc Document) error
	// Merge sets the given fields of the document id owned by uid.
	// Merging into a missing document returns ErrNotFound.
	Merge(ctx context.Context, uid, id string, fields Document) error
	// Delete removes the document id owned by uid. A missing id is not
	// an error.
	Delete(ctx context.Context, uid, id string) error
	Close(ctx context.Context) error
}

// MetaStore keeps one metadata document per user.
type MetaStore interface {
	// GetMeta returns the metadata document of uid, or nil when none exists.
	GetMeta(ctx context.Context, uid string) (Document, error)
	// MergeMeta creates or updates the metadata document of uid.
	MergeMeta(ctx context.Context, uid string, fields Document) error
}

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Clone returns a shallow copy of doc with nested maps and lists copied.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Writable returns the fields of doc that a merge may change: immutable
// note fields are dropped.
func Writable(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if immutable[k] {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

var immutable = func() map[string]bool {
	m := map[string]bool{}
	for _, f := range models.NoteFields {
		if f.Immutable {
			m[f.Wire] = true
		}
	}
	return m
}()
