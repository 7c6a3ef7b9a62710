package surreal

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/models"
)

type liveWatch struct {
	conn connection.Connection
	id   models.UUID
	lc   *connection.LiveChannel

	changes chan docstore.Change
	done    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once
	endOnce  sync.Once
	mu       sync.Mutex
	err      error
}

// Watch starts a live query over the notes of uid.
func (s *Store) Watch(ctx context.Context, uid string) (docstore.Watch, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	res, err := connection.Query[models.UUID](ctx, conn,
		fmt.Sprintf("LIVE SELECT * FROM %s WHERE uid = $uid", s.cfg.Table),
		map[string]any{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("surreal: live select: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("surreal: live select returned no id")
	}
	id := res[0].Result

	lc, err := conn.LiveNotifications(id.String())
	if err != nil {
		return nil, err
	}

	w := &liveWatch{
		conn:    conn,
		id:      id,
		lc:      lc,
		changes: make(chan docstore.Change, docstore.WatchBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.pump()
	s.log.Debug("live query started", "id", id.String(), "uid", uid)
	return w, nil
}

func (w *liveWatch) Changes() <-chan docstore.Change { return w.changes }

func (w *liveWatch) Done() <-chan struct{} { return w.done }

func (w *liveWatch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop kills the live query. A connection that is already gone only
// releases local state.
func (w *liveWatch) Stop(ctx context.Context) error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopped)
		if w.conn.IsClosed() {
			w.conn.CloseLiveNotifications(w.id.String())
		} else {
			err = connection.Kill(ctx, w.conn, w.id)
		}
		w.end(nil)
	})
	return err
}

func (w *liveWatch) end(err error) {
	w.endOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *liveWatch) pump() {
	for {
		select {
		case <-w.stopped:
			return
		case <-w.lc.Done():
			w.end(fmt.Errorf("live query %s ended: %w", w.id.String(), connection.ErrClosed))
			return
		case n := <-w.lc.C():
			change, ok := toChange(n)
			if !ok {
				if n.Action == connection.KilledAction {
					w.end(fmt.Errorf("live query %s killed by server: %w", w.id.String(), connection.ErrClosed))
					return
				}
				continue
			}
			select {
			case w.changes <- change:
			case <-w.stopped:
				return
			}
		}
	}
}

func toChange(n connection.Notification) (docstore.Change, bool) {
	var action docstore.Action
	switch n.Action {
	case connection.CreateAction:
		action = docstore.ActionCreate
	case connection.UpdateAction:
		action = docstore.ActionUpdate
	case connection.DeleteAction:
		action = docstore.ActionDelete
	default:
		return docstore.Change{}, false
	}

	raw, ok := n.Result.(map[string]any)
	if !ok {
		return docstore.Change{}, false
	}
	doc := fromWire(raw)
	id, _ := doc["id"].(string)
	if id == "" {
		return docstore.Change{}, false
	}
	return docstore.Change{Action: action, ID: id, Doc: doc}, true
}
