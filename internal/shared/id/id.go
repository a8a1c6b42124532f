// Package id provides ULID-based identifiers for exchanges, connections and
// trace spans.
//
// Identifiers are prefixed by kind so log lines stay readable:
//
//	exch_01HZX3V5Q4...   one request/response cycle
//	conn_01HZX3V5Q9...   one accepted WebSocket connection
//	span_01HZX3V5QA...   one tracing span
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ExchangeID identifies one exchange (HTTP request or WebSocket message).
type ExchangeID string

// ConnID identifies one WebSocket connection.
type ConnID string

// SpanID identifies a tracing span.
type SpanID string

const (
	ExchangePrefix = "exch"
	ConnPrefix     = "conn"
	SpanPrefix     = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewExchangeID generates a new exchange ID
func NewExchangeID() ExchangeID {
	return ExchangeID(Default().GenerateWithPrefix(ExchangePrefix))
}

// NewConnID generates a new connection ID
func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (id ExchangeID) String() string { return string(id) }
func (id ConnID) String() string     { return string(id) }
func (id SpanID) String() string     { return string(id) }
