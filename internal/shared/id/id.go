// Package id generates identifiers for traces, spans and observer streams.
//
// Trace and span IDs are prefixed ULIDs: lexicographically sortable by
// creation time and readable in logs (trc_01H..., spn_01H...). Stream IDs are
// random UUIDs because they are handed to remote clients.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TraceID identifies one request across transports.
type TraceID string

// SpanID identifies one operation within a trace.
type SpanID string

// StreamID identifies one observer event stream connection.
type StreamID string

// ID prefixes.
const (
	TracePrefix  = "trc"
	SpanPrefix   = "spn"
	StreamPrefix = "obs"
)

// Generator generates ULIDs. Within one millisecond the IDs it returns are
// strictly increasing.
type Generator struct {
	mu      sync.Mutex // Protects entropy
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with cryptographically secure entropy.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator reading entropy from r.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(r io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(r, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewTraceID returns a fresh trace ID.
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID returns a fresh span ID.
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewStreamID returns a fresh stream ID.
func NewStreamID() StreamID {
	return StreamID(StreamPrefix + "_" + uuid.NewString())
}

func (id TraceID) String() string  { return string(id) }
func (id SpanID) String() string   { return string(id) }
func (id StreamID) String() string { return string(id) }

// Parse parses a ULID, with or without a prefix.
func Parse(s string) (ulid.ULID, error) {
	if _, rest, ok := strings.Cut(s, "_"); ok {
		s = rest
	}
	return ulid.Parse(s)
}

// IsValid reports whether s is a (possibly prefixed) ULID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Timestamp extracts the creation time of a (possibly prefixed) ULID.
func Timestamp(s string) (time.Time, error) {
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
