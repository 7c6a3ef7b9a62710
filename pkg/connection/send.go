package connection

import (
	"context"
	"fmt"

	"github.com/driftnote/driftnote/pkg/models"
)

// Send performs an RPC call and decodes the result into res. res may be
// nil when the caller does not need the result.
func Send[Result any](ctx context.Context, c Connection, res *RPCResponse[Result], method string, params ...any) error {
	rawRes, err := c.Send(ctx, method, params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	res.ID = rawRes.ID
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := c.GetUnmarshaler().Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("Send: error unmarshaling result: %w", err)
	}
	res.Result = &r

	return nil
}

// Query runs a SurrealQL request and decodes every statement result into
// T. The first failed statement is returned as a *QueryError.
func Query[T any](ctx context.Context, c Connection, sql string, vars map[string]any) ([]QueryResult[T], error) {
	var res RPCResponse[[]rawQueryResult]
	if err := Send(ctx, c, &res, "query", sql, vars); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("%w: empty query response", ErrQuery)
	}

	out := make([]QueryResult[T], 0, len(*res.Result))
	for i, raw := range *res.Result {
		if raw.Status != StatusOK {
			var msg string
			if err := c.GetUnmarshaler().Unmarshal(raw.Result, &msg); err != nil {
				msg = raw.Status
			}
			return nil, &QueryError{Index: i, Message: msg}
		}

		qr := QueryResult[T]{Status: raw.Status, Time: raw.Time}
		if len(raw.Result) > 0 {
			if err := c.GetUnmarshaler().Unmarshal(raw.Result, &qr.Result); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
		}
		out = append(out, qr)
	}
	return out, nil
}

// Use selects the namespace and database.
func Use(ctx context.Context, c Connection, namespace, database string) error {
	return Send[any](ctx, c, nil, "use", namespace, database)
}

// SignIn authenticates with user credentials and returns the session token.
func SignIn(ctx context.Context, c Connection, user, pass string) (string, error) {
	var res RPCResponse[string]
	if err := Send(ctx, c, &res, "signin", map[string]any{"user": user, "pass": pass}); err != nil {
		return "", err
	}
	if res.Result == nil {
		return "", nil
	}
	return *res.Result, nil
}

// Kill stops a live query on the server and releases its channel.
func Kill(ctx context.Context, c Connection, liveQueryID models.UUID) error {
	c.CloseLiveNotifications(liveQueryID.String())
	return Send[any](ctx, c, nil, "kill", liveQueryID)
}
