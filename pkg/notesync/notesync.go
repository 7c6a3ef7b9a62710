// Package notesync keeps live, ordered views of a user's notes mirrored
// from a docstore, and writes note changes through to it.
//
// Writes never mutate local state: every subscription sees its own
// writes through the store's change feed, like any other writer's.
package notesync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/metrics"
	"github.com/driftnote/driftnote/pkg/models"
)

// ErrorPolicy decides what note writes do with store failures.
type ErrorPolicy int

const (
	// PolicyLog logs store failures and reports success to the caller.
	PolicyLog ErrorPolicy = iota
	// PolicyPropagate logs store failures and returns them wrapped in
	// ErrRemoteUnavailable.
	PolicyPropagate
)

// ParseErrorPolicy accepts "log" and "propagate".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "log":
		return PolicyLog, nil
	case "propagate":
		return PolicyPropagate, nil
	}
	return PolicyLog, fmt.Errorf("unknown error policy %q", s)
}

func (p ErrorPolicy) String() string {
	if p == PolicyPropagate {
		return "propagate"
	}
	return "log"
}

var (
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrNoUID             = errors.New("session has no uid")
	ErrNoteNotFound      = errors.New("note not found")
)

type Synchronizer struct {
	store   docstore.Store
	log     logger.Logger
	policy  ErrorPolicy
	metrics *metrics.Collector
	retryer connection.Retryer
}

type Option func(*Synchronizer)

func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Synchronizer) { s.policy = p }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithRetryer paces the re-establishment of watches that ended because
// the store connection was lost.
func WithRetryer(r connection.Retryer) Option {
	return func(s *Synchronizer) { s.retryer = r }
}

func New(store docstore.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:   store,
		log:     logger.Default(),
		retryer: connection.NewExponentialBackoffRetryer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notes loads the current notes of the session, newest first.
func (s *Synchronizer) Notes(ctx context.Context, sess auth.Session) ([]models.Note, error) {
	if sess.UID == "" {
		return nil, ErrNoUID
	}
	docs, err := s.store.List(ctx, sess.UID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	notes := make([]models.Note, 0, len(docs))
	for _, doc := range docs {
		n := models.FromWire(doc)
		if n.UID != sess.UID {
			continue
		}
		notes = append(notes, n)
	}
	models.SortNotes(notes)
	return notes, nil
}

// Create writes a new note owned by the session. The store assigns the
// id and creation time; the note shows up through subscriptions.
func (s *Synchronizer) Create(ctx context.Context, sess auth.Session, draft models.NoteDraft) error {
	if sess.UID == "" {
		return ErrNoUID
	}
	note := draft.Note(sess.UID)
	if err := note.Validate(); err != nil {
		return err
	}
	return s.result("create", s.store.Insert(ctx, models.ToWire(note)))
}

// Update sends the present fields of patch. An empty patch is a no-op.
func (s *Synchronizer) Update(ctx context.Context, sess auth.Session, id string, patch models.NotePatch) error {
	if sess.UID == "" {
		return ErrNoUID
	}
	if patch.IsEmpty() {
		return nil
	}
	if patch.Todos != nil {
		if err := (models.Note{Todos: *patch.Todos}).Validate(); err != nil {
			return err
		}
	}
	return s.result("update", s.store.Merge(ctx, sess.UID, id, patch.Wire()))
}

// Delete removes a note. Deleting a missing note succeeds.
func (s *Synchronizer) Delete(ctx context.Context, sess auth.Session, id string) error {
	if sess.UID == "" {
		return ErrNoUID
	}
	return s.result("delete", s.store.Delete(ctx, sess.UID, id))
}

// AddTodo appends an unchecked todo with a fresh id to the note. Unlike
// the other writes it needs the note's current todos, so it always
// reports failures.
func (s *Synchronizer) AddTodo(ctx context.Context, sess auth.Session, id, text string) (models.Todo, error) {
	notes, err := s.Notes(ctx, sess)
	if err != nil {
		return models.Todo{}, err
	}
	for _, n := range notes {
		if n.ID != id {
			continue
		}
		todos, todo := models.AppendTodo(n.Todos, text)
		err := s.store.Merge(ctx, sess.UID, id, models.NotePatch{Todos: &todos}.Wire())
		s.metrics.NoteOp("add_todo", err)
		if err != nil {
			return models.Todo{}, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		return todo, nil
	}
	return models.Todo{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
}

func (s *Synchronizer) result(op string, err error) error {
	s.metrics.NoteOp(op, err)
	if err == nil {
		return nil
	}
	s.log.Error("note write failed", "op", op, "error", err)
	if s.policy == PolicyPropagate {
		return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
	}
	return nil
}
