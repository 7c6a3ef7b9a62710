package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/driftnote/driftnote/internal/codec"
)

// Connection is the transport contract used by the stores.
type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	LiveNotifications(liveQueryID string) (*LiveChannel, error)
	CloseLiveNotifications(liveQueryID string)
	GetUnmarshaler() codec.Unmarshaler
}

// LiveChannel carries the notifications of one live query. Done is
// closed when the live query is released or the connection drops; C is
// never closed.
type LiveChannel struct {
	c    chan Notification
	done chan struct{}
	once sync.Once
}

func (l *LiveChannel) C() <-chan Notification { return l.c }

func (l *LiveChannel) Done() <-chan struct{} { return l.done }

func (l *LiveChannel) stop() {
	l.once.Do(func() { close(l.done) })
}

// Toolkit holds the state shared by transports: codecs and the maps
// routing responses and notifications to their waiters.
type Toolkit struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	ResponseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	responseChannelsLock sync.RWMutex

	NotificationChannels     map[string]*LiveChannel
	notificationChannelsLock sync.RWMutex
}

func NewToolkit(cfg *Config) Toolkit {
	return Toolkit{
		BaseURL:              cfg.BaseURL,
		Marshaler:            cfg.Marshaler,
		Unmarshaler:          cfg.Unmarshaler,
		ResponseChannels:     make(map[string]chan RPCResponse[cbor.RawMessage]),
		NotificationChannels: make(map[string]*LiveChannel),
	}
}

func (t *Toolkit) GetUnmarshaler() codec.Unmarshaler {
	return t.Unmarshaler
}

func (t *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	t.responseChannelsLock.Lock()
	defer t.responseChannelsLock.Unlock()

	if _, ok := t.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, id)
	}

	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	t.ResponseChannels[id] = ch
	return ch, nil
}

func (t *Toolkit) GetResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	t.responseChannelsLock.RLock()
	defer t.responseChannelsLock.RUnlock()
	ch, ok := t.ResponseChannels[id]
	return ch, ok
}

func (t *Toolkit) RemoveResponseChannel(id string) {
	t.responseChannelsLock.Lock()
	defer t.responseChannelsLock.Unlock()
	delete(t.ResponseChannels, id)
}

// LiveNotifications registers a channel for a live query id.
func (t *Toolkit) LiveNotifications(liveQueryID string) (*LiveChannel, error) {
	t.notificationChannelsLock.Lock()
	defer t.notificationChannelsLock.Unlock()

	if _, ok := t.NotificationChannels[liveQueryID]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, liveQueryID)
	}

	lc := &LiveChannel{
		c:    make(chan Notification, 64),
		done: make(chan struct{}),
	}
	t.NotificationChannels[liveQueryID] = lc
	return lc, nil
}

// CloseLiveNotifications unregisters the live query and closes its Done channel.
func (t *Toolkit) CloseLiveNotifications(liveQueryID string) {
	t.notificationChannelsLock.Lock()
	lc, ok := t.NotificationChannels[liveQueryID]
	delete(t.NotificationChannels, liveQueryID)
	t.notificationChannelsLock.Unlock()

	if ok {
		lc.stop()
	}
}

// CloseAllLiveNotifications is called when the transport is gone.
func (t *Toolkit) CloseAllLiveNotifications() {
	t.notificationChannelsLock.Lock()
	all := t.NotificationChannels
	t.NotificationChannels = make(map[string]*LiveChannel)
	t.notificationChannelsLock.Unlock()

	for _, lc := range all {
		lc.stop()
	}
}

// Notify delivers n to the live query's channel. It blocks while the
// channel is full, until the consumer catches up or the query is released.
func (t *Toolkit) Notify(liveQueryID string, n Notification) error {
	t.notificationChannelsLock.RLock()
	lc, ok := t.NotificationChannels[liveQueryID]
	t.notificationChannelsLock.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLiveQuery, liveQueryID)
	}

	select {
	case lc.c <- n:
	case <-lc.done:
	}
	return nil
}
