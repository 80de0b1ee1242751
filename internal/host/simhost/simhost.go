// Package simhost is an in-process stand-in for a browser. It records every
// privileged action, emits lifecycle events like a real browser would and
// can be told to fail or to have a subject close itself. It backs the tests
// and the -host=sim dry-run mode.
package simhost

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
)

// ErrTerminated is returned by every operation after Terminate.
var ErrTerminated = errors.New("simulated browser terminated")

// Operation names used in recorded calls and failure injection.
const (
	OpOpen      = "open"
	OpRemove    = "remove"
	OpTerminate = "terminate"
	OpResize    = "resize"
	OpZoom      = "zoom"
	OpPressure  = "pressure"
	OpGC        = "gc"
	OpCounts    = "counts"
)

// Call is one recorded host operation.
type Call struct {
	Op      string
	Subject id.SubjectID
	URL     string
	Kind    host.SubjectKind
	Width   int
	Height  int
	Factor  float64
}

// Subject is an open simulated tab or window.
type Subject struct {
	ID   id.SubjectID
	URL  string
	Kind host.SubjectKind
}

// Host is a simulated browser. It is safe for concurrent use.
type Host struct {
	host.Broadcaster

	mu         sync.Mutex
	subjects   map[id.SubjectID]Subject
	order      []id.SubjectID
	calls      []Call
	failures   map[string]error
	openDelay  time.Duration
	counts     map[string]int64
	terminated bool
	done       chan struct{}

	logger *logging.Logger
}

// New creates an empty simulated browser.
func New(logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Host{
		subjects: make(map[id.SubjectID]Subject),
		failures: make(map[string]error),
		counts:   make(map[string]int64),
		done:     make(chan struct{}),
		logger:   logger.Named("simhost"),
	}
}

// Fail makes every later op fail with err. A nil err clears the failure.
func (h *Host) Fail(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, op)
		return
	}
	h.failures[op] = err
}

// SetOpenDelay makes OpenSubject take d before completing.
func (h *Host) SetOpenDelay(d time.Duration) {
	h.mu.Lock()
	h.openDelay = d
	h.mu.Unlock()
}

// SetObjectCounts replaces the counts returned by ObjectCounts.
func (h *Host) SetObjectCounts(counts map[string]int64) {
	h.mu.Lock()
	h.counts = maps.Clone(counts)
	h.mu.Unlock()
}

// SelfClose removes subject as if its page had closed itself.
func (h *Host) SelfClose(subject id.SubjectID) bool {
	h.mu.Lock()
	ok := h.forget(subject)
	h.mu.Unlock()
	if ok {
		h.Emit(host.Event{Kind: host.SubjectRemoved, Subject: subject})
	}
	return ok
}

// Calls returns every recorded call in order.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsOf returns the recorded calls of one op.
func (h *Host) CallsOf(op string) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Call
	for _, c := range h.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Subject returns an open subject.
func (h *Host) Subject(subject id.SubjectID) (Subject, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subjects[subject]
	return s, ok
}

// Terminated reports whether Terminate succeeded.
func (h *Host) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

func (h *Host) OpenSubject(ctx context.Context, url string, kind host.SubjectKind) (id.SubjectID, error) {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Op: OpOpen, URL: url, Kind: kind})
	delay := h.openDelay
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	h.mu.Lock()
	if err := h.check(OpOpen); err != nil {
		h.mu.Unlock()
		return "", err
	}
	sub := id.NewSubjectID()
	h.subjects[sub] = Subject{ID: sub, URL: url, Kind: kind}
	h.order = append(h.order, sub)
	h.mu.Unlock()

	h.logger.Debug("subject opened", zap.String("subject", sub.String()), zap.String("url", url))
	h.Emit(host.Event{Kind: host.SubjectCreated, Subject: sub})
	return sub, nil
}

func (h *Host) RemoveSubject(_ context.Context, subject id.SubjectID) error {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Op: OpRemove, Subject: subject})
	if err := h.check(OpRemove); err != nil {
		h.mu.Unlock()
		return err
	}
	if !h.forget(subject) {
		h.mu.Unlock()
		return host.ErrNoSuchSubject
	}
	h.mu.Unlock()

	h.Emit(host.Event{Kind: host.SubjectRemoved, Subject: subject})
	return nil
}

func (h *Host) Subjects(_ context.Context) ([]id.SubjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return nil, ErrTerminated
	}
	return append([]id.SubjectID(nil), h.order...), nil
}

func (h *Host) Terminate(_ context.Context) error {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Op: OpTerminate})
	if err := h.check(OpTerminate); err != nil {
		h.mu.Unlock()
		return err
	}
	h.terminated = true
	close(h.done)
	h.mu.Unlock()

	h.logger.Info("simulated browser terminated")
	return nil
}

func (h *Host) Done() <-chan struct{} {
	return h.done
}

func (h *Host) Resize(_ context.Context, width, height int) error {
	return h.record(Call{Op: OpResize, Width: width, Height: height})
}

func (h *Host) Zoom(_ context.Context, factor float64) error {
	return h.record(Call{Op: OpZoom, Factor: factor})
}

func (h *Host) SimulateMemoryPressure(_ context.Context) error {
	return h.record(Call{Op: OpPressure})
}

func (h *Host) CollectGarbage(_ context.Context) error {
	return h.record(Call{Op: OpGC})
}

func (h *Host) ObjectCounts(_ context.Context) (map[string]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Op: OpCounts})
	if err := h.check(OpCounts); err != nil {
		return nil, err
	}
	return maps.Clone(h.counts), nil
}

func (h *Host) record(c Call) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
	return h.check(c.Op)
}

// check must be called with mu held.
func (h *Host) check(op string) error {
	if h.terminated {
		return ErrTerminated
	}
	return h.failures[op]
}

// forget must be called with mu held.
func (h *Host) forget(subject id.SubjectID) bool {
	if _, ok := h.subjects[subject]; !ok {
		return false
	}
	delete(h.subjects, subject)
	for i, s := range h.order {
		if s == subject {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

var (
	_ host.Host        = (*Host)(nil)
	_ host.MemoryProbe = (*Host)(nil)
)
