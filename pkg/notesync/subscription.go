package notesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/models"
)

// stopTimeout bounds the release of a watch on Close.
const stopTimeout = 5 * time.Second

// Subscription is a live, ordered view of one user's notes.
type Subscription struct {
	syncer *Synchronizer
	uid    string

	ctx    context.Context
	cancel context.CancelFunc

	// updates holds at most the latest snapshot.
	updates chan []models.Note
	done    chan struct{}

	mu    sync.RWMutex
	notes []models.Note

	// cache is owned by the run goroutine once it has started.
	cache map[string]models.Note
}

// Subscribe opens a standing watch over the session's notes and loads
// the initial set. The first snapshot is available from Notes and
// Updates when Subscribe returns.
//
// The watch is released by Close or when ctx is cancelled. A watch lost
// with the store connection is re-established and followed by a fresh
// snapshot.
func (s *Synchronizer) Subscribe(ctx context.Context, sess auth.Session) (*Subscription, error) {
	if sess.UID == "" {
		return nil, ErrNoUID
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		syncer:  s,
		uid:     sess.UID,
		ctx:     subCtx,
		cancel:  cancel,
		updates: make(chan []models.Note, 1),
		done:    make(chan struct{}),
		cache:   make(map[string]models.Note),
	}

	w, err := sub.start(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	s.metrics.SubscriptionOpened()
	s.log.Debug("subscription opened", "uid", sess.UID)
	go sub.run(w)
	return sub, nil
}

// start opens the watch before listing, so that no change between the
// two is missed, then replaces the cache with the listed documents.
func (sub *Subscription) start(ctx context.Context) (docstore.Watch, error) {
	store := sub.syncer.store

	w, err := store.Watch(ctx, sub.uid)
	if err != nil {
		return nil, fmt.Errorf("%w: watch: %w", ErrRemoteUnavailable, err)
	}

	docs, err := store.List(ctx, sub.uid)
	if err != nil {
		sub.release(w)
		return nil, fmt.Errorf("%w: list: %w", ErrRemoteUnavailable, err)
	}

	sub.cache = make(map[string]models.Note, len(docs))
	for _, doc := range docs {
		sub.put(doc)
	}
	sub.publish()
	return w, nil
}

// Updates delivers snapshots. Only the latest unread snapshot is kept,
// so a slow reader skips intermediate states and never blocks the
// store. The channel is not closed; select on Done as well.
func (sub *Subscription) Updates() <-chan []models.Note {
	return sub.updates
}

// Notes returns the last published snapshot.
func (sub *Subscription) Notes() []models.Note {
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	return append([]models.Note(nil), sub.notes...)
}

// Done is closed once the subscription has released its watch.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Close releases the watch and waits for it. Closing twice is a no-op.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// release stops w, logging a failure.
func (sub *Subscription) release(w docstore.Watch) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		sub.syncer.log.Warn("failed to release watch", "uid", sub.uid, "error", err)
	}
}

func (sub *Subscription) run(w docstore.Watch) {
	log := sub.syncer.log
	defer func() {
		sub.release(w)
		sub.syncer.metrics.SubscriptionClosed()
		log.Debug("subscription closed", "uid", sub.uid)
		close(sub.done)
	}()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case c := <-w.Changes():
			sub.apply(c)
			sub.publish()
		case <-w.Done():
			if sub.ctx.Err() != nil || errors.Is(w.Err(), docstore.ErrClosed) {
				return
			}
			log.Warn("watch ended, resubscribing", "uid", sub.uid, "error", w.Err())
			sub.release(w)

			next, err := sub.restart()
			if err != nil {
				log.Error("resubscribe failed", "uid", sub.uid, "error", err)
				return
			}
			w = next
		}
	}
}

// restart re-establishes the watch and republishes. A closed store is
// not retried.
func (sub *Subscription) restart() (docstore.Watch, error) {
	var (
		w      docstore.Watch
		closed error
	)
	err := connection.Retry(sub.ctx, sub.syncer.retryer, sub.syncer.log, func(ctx context.Context) error {
		next, err := sub.start(ctx)
		if errors.Is(err, docstore.ErrClosed) {
			closed = err
			return nil
		}
		if err != nil {
			return err
		}
		w = next
		return nil
	})
	if closed != nil {
		return nil, closed
	}
	return w, err
}

func (sub *Subscription) apply(c docstore.Change) {
	switch c.Action {
	case docstore.ActionCreate, docstore.ActionUpdate:
		if c.Doc == nil {
			return
		}
		if _, ok := c.Doc["id"]; !ok {
			c.Doc["id"] = c.ID
		}
		sub.put(c.Doc)
	case docstore.ActionDelete:
		delete(sub.cache, c.ID)
	}
}

func (sub *Subscription) put(doc docstore.Document) {
	n := models.FromWire(doc)
	if n.ID == "" || n.UID != sub.uid {
		return
	}
	sub.cache[n.ID] = n
}

func (sub *Subscription) publish() {
	notes := make([]models.Note, 0, len(sub.cache))
	for _, n := range sub.cache {
		notes = append(notes, n)
	}
	models.SortNotes(notes)

	sub.mu.Lock()
	sub.notes = notes
	sub.mu.Unlock()

	// Drop the unread snapshot, if any, in favour of this one.
	select {
	case <-sub.updates:
	default:
	}
	select {
	case sub.updates <- append([]models.Note(nil), notes...):
	default:
	}
}
