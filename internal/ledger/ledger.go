// Package ledger correlates asynchronous cross-privilege requests with
// their responses.
//
// Each outstanding request occupies a slot; its token is the slot index
// plus one. A response settles the slot's continuation exactly once and
// leaves a tombstone, and trailing tombstones are trimmed so that the
// table only grows with the number of requests actually in flight.
//
// A Ledger is owned by one event loop and is not safe for concurrent use.
package ledger

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
)

// ErrNoValue is the generic rejection reason for responses without a value.
var ErrNoValue = errors.New("response did not contain a value")

// Token correlates a request with its response.
type Token int64

// Continuation is the pair of callbacks waiting on a response.
type Continuation struct {
	Resolve func(value any)
	Reject  func(err error)
}

// Outcome is what a response carried.
type Outcome struct {
	Value   any
	Present bool
}

// Fulfilled returns an outcome carrying value.
func Fulfilled(value any) Outcome {
	return Outcome{Value: value, Present: true}
}

// Missing returns an outcome without a value.
func Missing() Outcome {
	return Outcome{}
}

// Ledger is the slot table of pending requests.
type Ledger struct {
	slots  []*Continuation
	logger *logging.Logger
}

// New creates an empty ledger.
func New(logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ledger{logger: logger}
}

// Issue stores c and returns its token.
func (l *Ledger) Issue(c Continuation) Token {
	l.slots = append(l.slots, &c)
	return Token(len(l.slots))
}

// Resolve settles the entry for token. It reports false, after logging,
// when no entry is waiting on that token.
func (l *Ledger) Resolve(token Token, outcome Outcome) bool {
	idx := int64(token) - 1
	if idx < 0 || idx >= int64(len(l.slots)) || l.slots[idx] == nil {
		l.logger.Warn("unknown token",
			zap.Int64("token", int64(token)),
			zap.Int("slots", len(l.slots)),
		)
		return false
	}

	c := l.slots[idx]
	l.slots[idx] = nil
	l.trim()

	if outcome.Present {
		if c.Resolve != nil {
			c.Resolve(outcome.Value)
		}
	} else if c.Reject != nil {
		c.Reject(ErrNoValue)
	}
	return true
}

// Len is the current slot table length, tombstones included.
func (l *Ledger) Len() int {
	return len(l.slots)
}

// Outstanding counts entries still waiting for a response.
func (l *Ledger) Outstanding() int {
	n := 0
	for _, c := range l.slots {
		if c != nil {
			n++
		}
	}
	return n
}

func (l *Ledger) trim() {
	n := len(l.slots)
	for n > 0 && l.slots[n-1] == nil {
		n--
	}
	clear(l.slots[n:])
	l.slots = l.slots[:n]
}
