package connection

import "errors"

const (
	// RequestIDLength is the length of the id correlating requests and responses.
	RequestIDLength = 16
	// CloseMessageCode is the websocket close code sent on Close.
	CloseMessageCode = 1000
)

var (
	ErrIDInUse             = errors.New("id already in use")
	ErrTimeout             = errors.New("timeout")
	ErrNoBaseURL           = errors.New("base url not set")
	ErrNoMarshaler         = errors.New("marshaler is not set")
	ErrNoUnmarshaler       = errors.New("unmarshaler is not set")
	ErrClosed              = errors.New("connection closed")
	ErrQuery               = errors.New("error occurred processing the query")
	ErrUnknownLiveQuery    = errors.New("unknown live query")
)
