// Package id provides identifier types shared across the harness.
//
// Subjects (tabs/windows) are identified by whatever the host reports; the
// simulated host mints prefixed ULIDs so that ids sort by creation time in
// logs. Peers (page connections) also use ULIDs. Harness runs use UUIDs so
// that they can be correlated with the external fuzzing driver's records.
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

// SubjectID identifies a tab or window opened in the host.
type SubjectID string

// PeerID identifies a connected untrusted context.
type PeerID string

// RunID identifies one harness kickoff.
type RunID string

const (
	SubjectPrefix = "sub"
	PeerPrefix    = "peer"
	TracePrefix   = "trace"
	SpanPrefix    = "span"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// entropy, so ids minted within the same millisecond still sort.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSubjectID generates a subject id for hosts that do not mint their own.
func NewSubjectID() SubjectID {
	return SubjectID(Default().GenerateWithPrefix(SubjectPrefix))
}

// NewPeerID generates a peer id.
func NewPeerID() PeerID {
	return PeerID(Default().GenerateWithPrefix(PeerPrefix))
}

// NewTraceID and NewSpanID generate ids for control-request tracing.
func NewTraceID() string { return Default().GenerateWithPrefix(TracePrefix) }
func NewSpanID() string  { return Default().GenerateWithPrefix(SpanPrefix) }

// NewRunID generates a harness run id.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

func (id SubjectID) String() string { return string(id) }
func (id PeerID) String() string    { return string(id) }
func (id RunID) String() string     { return string(id) }

// IsZero reports whether the subject id is unset.
func (id SubjectID) IsZero() bool { return id == "" }

// IsValid checks if a prefixed id carries a valid ULID.
func IsValid(prefixed string) bool {
	_, err := Parse(prefixed)
	return err == nil
}

// Parse extracts the ULID from a prefixed id.
func Parse(prefixed string) (ulid.ULID, error) {
	_, raw, found := strings.Cut(prefixed, "_")
	if !found {
		raw = prefixed
	}
	return ulid.Parse(raw)
}

// Timestamp extracts the creation time from a prefixed id.
func Timestamp(prefixed string) (time.Time, error) {
	parsed, err := Parse(prefixed)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
