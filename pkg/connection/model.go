package connection

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/driftnote/driftnote/pkg/models"
)

// RPCError is an error reported by the server for a single request.
type RPCError struct {
	Code        int    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r *RPCError) Error() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	_, ok := target.(*RPCError)
	return ok
}

type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

type RPCResponse[T any] struct {
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

type Action string

const (
	CreateAction Action = "CREATE"
	UpdateAction Action = "UPDATE"
	DeleteAction Action = "DELETE"
	KilledAction Action = "KILLED"
)

// Notification is pushed by the server for every change matched by a
// live query. Result is normalized with models.Normalize.
type Notification struct {
	ID     *models.UUID `json:"id,omitempty"`
	Action Action       `json:"action"`
	Result any          `json:"result"`
}

// QueryResult is the result of one statement of a query request.
type QueryResult[T any] struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Result T      `json:"result"`
}

const StatusOK = "OK"

// QueryError is returned when a statement of a query failed.
type QueryError struct {
	Index   int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("statement %d failed: %s", e.Index, e.Message)
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQuery
}

// rawQueryResult keeps the per-statement result undecoded, so that an
// error message string does not fail decoding into T.
type rawQueryResult struct {
	Status string          `json:"status"`
	Time   string          `json:"time"`
	Result cbor.RawMessage `json:"result"`
}
