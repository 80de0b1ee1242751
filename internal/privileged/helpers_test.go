package privileged

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

func runLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New()
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func observedLogger() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.Wrap(zap.New(core)), logs
}

type countingMetrics struct {
	mu       sync.Mutex
	commands map[string]int
	unknown  int
	hits     int
	misses   int
	quits    []string
	leaked   int
	odd      int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{commands: make(map[string]int)}
}

func (m *countingMetrics) CommandReceived(cmd string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd]++
}

func (m *countingMetrics) UnknownCommand() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknown++
}

func (m *countingMetrics) CacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) QuitExecuted(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quits = append(m.quits, reason)
}

func (m *countingMetrics) LeaksReported(leaked, odd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaked, m.odd = leaked, odd
}

func (m *countingMetrics) snapshot() countingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countingMetrics{unknown: m.unknown, hits: m.hits, misses: m.misses, quits: append([]string(nil), m.quits...)}
}

// replies collects responses; safe to read while the loop writes.
type replies struct {
	mu  sync.Mutex
	got []protocol.Message
}

func (r *replies) send(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
}

func (r *replies) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.got...)
}
