package models

import (
	"sync"
	"time"
)

// TodoIDs hands out millisecond timestamps that strictly increase, so two
// todos created within the same millisecond still get distinct ids.
type TodoIDs struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewTodoIDs(now func() time.Time) *TodoIDs {
	if now == nil {
		now = time.Now
	}
	return &TodoIDs{now: now}
}

func (g *TodoIDs) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

var defaultTodoIDs = NewTodoIDs(nil)

// NextTodoID returns the next id from the process wide generator.
func NextTodoID() int64 {
	return defaultTodoIDs.Next()
}
