// Package fakedocdb provides an in-memory stand-in for a SurrealDB server.
// It speaks the CBOR RPC protocol over WebSocket and understands the
// handful of SurrealQL statement forms the driftnote surreal store
// emits, including LIVE SELECT with change pushes.
//
// The WebSocket server is implemented using the `gws` library.
//
// Stub responses can override any method for failure tests.
package fakedocdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/driftnote/driftnote/internal/codec"
	"github.com/driftnote/driftnote/internal/rand"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/models"
)

// RequestMatcher selects requests by method and, optionally, params.
type RequestMatcher struct {
	Method  string
	Matcher func(params []any) bool
}

// StubResponse replaces the default handling of matching requests.
type StubResponse struct {
	Matcher RequestMatcher
	Result  any
	Error   *connection.RPCError
	// Times limits how often the stub fires; 0 means always.
	Times int
}

type session struct {
	namespace string
	database  string
	user      string
}

type liveQuery struct {
	id     models.UUID
	socket *gws.Conn
	table  string
	// uid is the value the uid field must equal; empty matches every record.
	uid string
}

// Server is a fake document database reachable over WebSocket at /rpc.
type Server struct {
	// User and Pass are the accepted root credentials.
	User string
	Pass string

	addr     string
	listener net.Listener
	server   *gws.Server

	mu          sync.Mutex
	stubs       []*StubResponse
	sessions    map[*gws.Conn]*session
	tables      map[string]map[string]map[string]any
	lives       map[string]*liveQuery
	definitions []string
	requests    map[string]int

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	now         func() time.Time
}

type handler struct {
	server *Server
}

// NewServer creates a server. Use "127.0.0.1:0" for a random port.
func NewServer(addr string) *Server {
	s := &Server{
		User:        "root",
		Pass:        "root",
		addr:        addr,
		sessions:    make(map[*gws.Conn]*session),
		tables:      make(map[string]map[string]map[string]any),
		lives:       make(map[string]*liveQuery),
		requests:    make(map[string]int),
		marshaler:   models.CborMarshaler{},
		unmarshaler: models.CborUnmarshaler{},
		now:         time.Now,
	}

	s.server = gws.NewServer(&handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakedocdb: server error: %v", err)
		}
	}
	return s
}

func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil &&
			!errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakedocdb: listener stopped: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.DropConnections()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the bound address, useful with port 0.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// base URL of the server.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

// AddStubResponse registers a stub; stubs are matched in insertion order.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, &stub)
}

// DropConnections closes every client socket without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

// Records returns a copy of every record of a table.
func (s *Server) Records(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, rec := range s.tables[table] {
		out = append(out, cloneDoc(rec))
	}
	return out
}

// Put stores a record directly, bypassing the protocol and live queries.
func (s *Server) Put(table, key string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := cloneDoc(doc)
	rec["id"] = models.NewRecordID(table, key)
	s.table(table)[key] = rec
}

// Definitions returns the DEFINE statements received so far.
func (s *Server) Definitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.definitions...)
}

// LiveQueries returns the number of live queries currently registered.
func (s *Server) LiveQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lives)
}

// Requests returns how many requests of a method were received.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

func (s *Server) table(name string) map[string]map[string]any {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]map[string]any)
		s.tables[name] = t
	}
	return t
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{}
	h.server.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.sessions, socket)
	for id, lq := range h.server.lives {
		if lq.socket == socket {
			delete(h.server.lives, id)
		}
	}
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *handler) OnPong(*gws.Conn, []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req connection.RPCRequest
	if err := h.server.unmarshaler.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, -32700, "Parse error")
		return
	}
	for i, p := range req.Params {
		req.Params[i] = models.Normalize(p)
	}

	s := h.server
	s.mu.Lock()
	s.requests[req.Method]++
	stub := s.matchStub(&req)
	sess := s.sessions[socket]
	s.mu.Unlock()

	if stub != nil {
		if stub.Error != nil {
			h.sendError(socket, req.ID, stub.Error.Code, stub.Error.Message)
		} else {
			h.sendResponse(socket, req.ID, stub.Result)
		}
		return
	}

	switch req.Method {
	case "use":
		h.handleUse(socket, sess, &req)
		return
	case "signin":
		h.handleSignIn(socket, sess, &req)
		return
	}

	s.mu.Lock()
	ready := sess != nil && sess.user != "" && sess.namespace != "" && sess.database != ""
	s.mu.Unlock()
	if !ready {
		h.sendError(socket, req.ID, -32000, "There was a problem with authentication: specify a namespace, a database and sign in")
		return
	}

	switch req.Method {
	case "ping":
		h.sendResponse(socket, req.ID, nil)
	case "query":
		h.handleQuery(socket, &req)
	case "kill":
		h.handleKill(socket, &req)
	default:
		h.sendError(socket, req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) matchStub(req *connection.RPCRequest) *StubResponse {
	for i, stub := range s.stubs {
		if stub.Matcher.Method != req.Method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(req.Params) {
			continue
		}
		if stub.Times > 0 {
			stub.Times--
			if stub.Times == 0 {
				s.stubs = append(s.stubs[:i], s.stubs[i+1:]...)
			}
		}
		return stub
	}
	return nil
}

func (h *handler) handleUse(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	if len(req.Params) < 2 {
		h.sendError(socket, req.ID, -32602, "use requires namespace and database parameters")
		return
	}
	ns, ok1 := req.Params[0].(string)
	db, ok2 := req.Params[1].(string)
	if !ok1 || !ok2 {
		h.sendError(socket, req.ID, -32602, "namespace and database must be strings")
		return
	}

	h.server.mu.Lock()
	sess.namespace, sess.database = ns, db
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleSignIn(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	creds, _ := paramAt(req.Params, 0).(map[string]any)
	user, _ := creds["user"].(string)
	pass, _ := creds["pass"].(string)
	if user != h.server.User || pass != h.server.Pass {
		h.sendError(socket, req.ID, -32000, "There was a problem with authentication")
		return
	}

	h.server.mu.Lock()
	sess.user = user
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, "token-"+rand.String(12))
}

func (h *handler) handleKill(socket *gws.Conn, req *connection.RPCRequest) {
	id := fmt.Sprint(paramAt(req.Params, 0))
	if u, ok := paramAt(req.Params, 0).(models.UUID); ok {
		id = u.String()
	}

	h.server.mu.Lock()
	_, ok := h.server.lives[id]
	delete(h.server.lives, id)
	h.server.mu.Unlock()

	if !ok {
		h.sendError(socket, req.ID, -32000, "Can not execute KILL statement using id '"+id+"'")
		return
	}
	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Result = &result

	data, err := h.server.marshaler.Marshal(resp)
	if err != nil {
		h.sendError(socket, id, -32603, fmt.Sprintf("sendResponse: %v", err))
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakedocdb: error writing response: %v", err)
	}
}

func (h *handler) sendError(socket *gws.Conn, id any, code int, message string) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = &connection.RPCError{Code: code, Message: message}

	data, err := h.server.marshaler.Marshal(resp)
	if err != nil {
		log.Printf("fakedocdb: failed to marshal error response: %v", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakedocdb: error writing error response: %v", err)
	}
}

func (s *Server) notify(lq *liveQuery, action connection.Action, doc map[string]any) {
	payload := map[string]any{
		"id":     lq.id,
		"action": string(action),
		"result": toWire(doc),
	}
	var resp connection.RPCResponse[any]
	var result any = payload
	resp.Result = &result

	data, err := s.marshaler.Marshal(resp)
	if err != nil {
		log.Printf("fakedocdb: failed to marshal notification: %v", err)
		return
	}
	if err := lq.socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakedocdb: error writing notification: %v", err)
	}
}

func paramAt(params []any, i int) any {
	if i < len(params) {
		return params[i]
	}
	return nil
}

func isUseOfClosedNetworkError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
