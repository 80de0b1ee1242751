package ledger

import (
	"context"
	"sync"
)

// Deferred is a caller-facing pending value that settles exactly once.
type Deferred struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewDeferred creates an unsettled value.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Rejected returns a Deferred already settled with err.
func Rejected(err error) *Deferred {
	d := NewDeferred()
	d.Reject(err)
	return d
}

// Resolve fulfils the value. Later settlements are ignored.
func (d *Deferred) Resolve(value any) {
	d.once.Do(func() {
		d.value = value
		close(d.done)
	})
}

// Reject fails the value. Later settlements are ignored.
func (d *Deferred) Reject(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// Continuation adapts d to a ledger entry.
func (d *Deferred) Continuation() Continuation {
	return Continuation{Resolve: d.Resolve, Reject: d.Reject}
}

// Done is closed once the value settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the value has settled.
func (d *Deferred) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value. Calling it before Done is closed
// returns zero values.
func (d *Deferred) Result() (any, error) {
	if !d.Settled() {
		return nil, nil
	}
	return d.value, d.err
}

// Wait blocks until the value settles or ctx ends. Responses carry no
// timeout of their own, so callers that cannot wait forever must bound ctx.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
