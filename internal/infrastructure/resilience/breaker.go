package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrOpen         = errors.New("circuit breaker is open")
	ErrProbeLimited = errors.New("circuit breaker is probing, request rejected")
)

// State is a breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes a Breaker. Zero values select the defaults.
type Settings struct {
	// Probes is how many requests a half-open breaker lets through, and how
	// many of them must succeed to close again.
	Probes uint32
	// Window is how long a closed breaker accumulates counts.
	Window time.Duration
	// Cooldown is how long an open breaker rejects before probing.
	Cooldown time.Duration
	// Trip decides, after a failure while closed, whether to open.
	Trip func(Counts) bool
	// OnStateChange observes transitions. Called with the breaker locked.
	OnStateChange func(name string, from, to State)
}

// Counts are the outcomes seen in the current state epoch.
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker stops calling a failing dependency for a while.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	epoch    uint64
	deadline time.Time
	now      func() time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.Window <= 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Trip == nil {
		settings.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	b := &Breaker{name: name, settings: settings, now: time.Now}
	b.deadline = b.now().Add(settings.Window)
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the state, applying any due time-based transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(b.now())
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn unless the breaker rejects it. fn's error counts as a failure
// and is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		b.settle(epoch, ok)
	}()

	err = fn()
	ok = err == nil
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(b.now())
	switch {
	case b.state == StateOpen:
		return b.epoch, ErrOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.Probes:
		return b.epoch, ErrProbeLimited
	}
	b.counts.Requests++
	return b.epoch, nil
}

func (b *Breaker) settle(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tick(now)
	if epoch != b.epoch {
		return
	}

	if ok {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.settings.Trip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// tick applies time-based transitions. Caller holds mu.
func (b *Breaker) tick(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.counts = Counts{}
			b.epoch++
			b.deadline = now.Add(b.settings.Window)
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
}

// transition moves to a new state and epoch. Caller holds mu.
func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.epoch++

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.settings.Window)
	case StateOpen:
		b.deadline = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
