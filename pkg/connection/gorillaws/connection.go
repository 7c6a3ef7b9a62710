// Package gorillaws is the WebSocket transport of the RPC client, built
// on gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/fxamacker/cbor/v2"

	"github.com/driftnote/driftnote/internal/rand"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/models"
)

// DefaultDialer is gorilla's default dialer with compression enabled and
// the "cbor" subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock guards Conn for writes and for the swap in Close.
	connLock sync.Mutex

	// Timeout bounds the wait for a response once a request is written.
	// Zero disables it; the caller's context still applies.
	Timeout time.Duration

	logger logger.Logger

	// connCloseCh is closed when the connection is shutting down or lost.
	connCloseCh    chan struct{}
	connCloseError error
	closeOnce      sync.Once
	closed         bool
	stateLock      sync.RWMutex
}

var _ connection.Connection = (*Connection)(nil)

func New(cfg *connection.Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Connection{
		Toolkit: connection.NewToolkit(cfg),
		Timeout: cfg.Timeout,
		logger:  log,
	}
}

// IsClosed reports whether the connection was closed or lost.
func (c *Connection) IsClosed() bool {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.closed
}

// Connect dials <BaseURL>/rpc and starts the read loop.
func (c *Connection) Connect(ctx context.Context) error {
	if c.BaseURL == "" {
		return connection.ErrNoBaseURL
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.BaseURL), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.Conn = conn
	c.connCloseCh = make(chan struct{})

	go c.readLoop(conn)

	return nil
}

// Close sends a close frame, bounded by ctx, and closes the socket.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.markClosed(connection.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.Conn
	c.Conn = nil
	if conn == nil {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(connection.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return conn.Close()
}

// Send writes an RPC request and waits for the matching response.
// It returns ErrTimeout when Timeout elapses first.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	closeCh := c.closeChan()
	select {
	case <-closeCh:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := rand.NewRequestID(connection.RequestIDLength)
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("%w: %s", connection.ErrTimeout, method)
	case <-closeCh:
		return nil, c.closeErr()
	case res := <-responseChan:
		if res.Error != nil {
			return nil, res.Error
		}
		return &res, nil
	}
}

func (c *Connection) closeChan() chan struct{} {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.connCloseCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.connCloseCh
}

func (c *Connection) closeErr() error {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	if c.connCloseError != nil {
		return c.connCloseError
	}
	return connection.ErrClosed
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.Conn == nil {
		return connection.ErrClosed
	}

	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		go c.markClosed(err)
	}
	return err
}

// markClosed records the cause, wakes pending senders and ends every live query.
func (c *Connection) markClosed(cause error) {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		c.closed = true
		c.connCloseError = cause
		c.stateLock.Unlock()

		c.connLock.Lock()
		if c.connCloseCh != nil {
			close(c.connCloseCh)
		}
		c.connLock.Unlock()

		c.CloseAllLiveNotifications()
	})
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return
			}
			switch {
			case errors.Is(err, net.ErrClosed):
				c.markClosed(net.ErrClosed)
			case gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure):
				c.markClosed(io.ErrClosedPipe)
			default:
				c.logger.Error("websocket read failed", "error", err)
				c.markClosed(err)
			}
			return
		}
		// Handled inline so that notifications keep the server's order.
		c.handleResponse(data)
	}
}

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &res); err != nil {
		c.logger.Error("failed to decode rpc message", "error", err)
		return
	}

	if id, ok := res.ID.(string); ok && id != "" {
		responseChan, ok := c.GetResponseChannel(id)
		if !ok {
			c.logger.Warn("response for unknown request", "id", id)
			return
		}
		responseChan <- res
		return
	}

	if res.Result == nil {
		if res.Error != nil {
			c.logger.Error("error response without id", "error", res.Error)
		}
		return
	}

	var notification connection.Notification
	if err := c.Unmarshaler.Unmarshal(*res.Result, &notification); err != nil {
		c.logger.Error("failed to decode notification", "error", err)
		return
	}
	if notification.ID == nil {
		c.logger.Error("notification without live query id")
		return
	}
	notification.Result = models.Normalize(notification.Result)

	if err := c.Notify(notification.ID.String(), notification); err != nil {
		c.logger.Debug("dropping notification", "error", err)
	}
}
