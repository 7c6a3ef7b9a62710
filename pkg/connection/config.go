package connection

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/driftnote/driftnote/internal/codec"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/models"
)

// DefaultTimeout bounds the wait for a single RPC response.
const DefaultTimeout = 30 * time.Second

type Config struct {
	// BaseURL is the server root, such as ws://localhost:8000.
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	Timeout     time.Duration
}

// NewConfig builds a Config with the CBOR codec from an endpoint URL.
// Both ws://host:8000 and ws://host:8000/rpc are accepted, and http(s)
// schemes are mapped to ws(s).
func NewConfig(endpoint string) (*Config, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, ErrNoBaseURL)
	}

	path := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/rpc")

	return &Config{
		BaseURL:     fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path),
		Marshaler:   models.CborMarshaler{},
		Unmarshaler: models.CborUnmarshaler{},
		Logger:      logger.Default(),
		Timeout:     DefaultTimeout,
	}, nil
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.Marshaler == nil {
		return ErrNoMarshaler
	}
	if c.Unmarshaler == nil {
		return ErrNoUnmarshaler
	}
	return nil
}
