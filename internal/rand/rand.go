// Package rand generates identifiers that need to be unique but not
// unpredictable: RPC request ids and record key suffixes.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var source = newSource()

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource() *lockedSource {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("rand: crypto seed unavailable: " + err.Error())
	}

	return &lockedSource{
		//nolint:gosec // request ids are not secrets
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// String returns a base62 string of the given length.
func String(length int) string {
	buf := make([]byte, length)

	source.mu.Lock()
	for i := range buf {
		buf[i] = charset[source.rng.IntN(len(charset))]
	}
	source.mu.Unlock()

	return string(buf)
}

// NewRequestID returns an id for correlating an RPC request with its response.
func NewRequestID(length int) string {
	return String(length)
}
