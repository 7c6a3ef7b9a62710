package docstore

import (
	"context"
	"sync"
)

// WatchBuffer is the capacity of a watch's Changes channel. Changes past
// it queue inside the watch; Publish never waits on a reader.
const WatchBuffer = 64

// Hub fans changes out to in-process watches, for stores without a
// native change feed.
//
// Every watch receives changes in the order Publish was called, so a
// store that publishes while holding its write lock delivers changes in
// commit order.
type Hub struct {
	mu      sync.Mutex
	watches map[*hubWatch]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{watches: make(map[*hubWatch]struct{})}
}

// Subscribe registers a watch over the documents of uid.
func (h *Hub) Subscribe(uid string) (Watch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	w := &hubWatch{
		hub:     h,
		uid:     uid,
		changes: make(chan Change, WatchBuffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	h.watches[w] = struct{}{}
	go w.pump()
	return w, nil
}

// Publish queues a change for every watch of uid and returns without
// waiting for delivery.
func (h *Hub) Publish(uid string, c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watches {
		if w.uid != uid {
			continue
		}
		c := c
		c.Doc = Clone(c.Doc)
		w.enqueue(c)
	}
}

// Close ends every watch with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.watches
	h.watches = make(map[*hubWatch]struct{})
	h.mu.Unlock()

	for w := range all {
		w.end(ErrClosed)
	}
}

// Watches returns the number of active watches.
func (h *Hub) Watches() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watches)
}

type hubWatch struct {
	hub     *Hub
	uid     string
	changes chan Change
	done    chan struct{}
	once    sync.Once
	err     error
	errMu   sync.Mutex

	queueMu sync.Mutex
	queue   []Change
	wake    chan struct{}
}

func (w *hubWatch) Changes() <-chan Change { return w.changes }

func (w *hubWatch) Done() <-chan struct{} { return w.done }

func (w *hubWatch) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *hubWatch) Stop(context.Context) error {
	w.hub.mu.Lock()
	delete(w.hub.watches, w)
	w.hub.mu.Unlock()
	w.end(nil)
	return nil
}

func (w *hubWatch) enqueue(c Change) {
	w.queueMu.Lock()
	w.queue = append(w.queue, c)
	w.queueMu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// pump moves queued changes onto the Changes channel until the watch ends.
func (w *hubWatch) pump() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		w.queueMu.Lock()
		batch := w.queue
		w.queue = nil
		w.queueMu.Unlock()

		for _, c := range batch {
			select {
			case w.changes <- c:
			case <-w.done:
				return
			}
		}
	}
}

func (w *hubWatch) end(err error) {
	w.once.Do(func() {
		w.errMu.Lock()
		w.err = err
		w.errMu.Unlock()
		close(w.done)
	})
}
