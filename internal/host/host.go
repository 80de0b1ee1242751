// Package host abstracts the privileged browser process: the subjects
// (tabs or windows) it has open, their lifecycle events and the handful of
// privileged actions page content may request.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
)

var (
	// ErrUnsupported is returned when the host lacks a capability.
	ErrUnsupported = errors.New("capability not supported by host")
	// ErrNoSuchSubject is returned when a subject is not open.
	ErrNoSuchSubject = errors.New("no such subject")
)

// SubjectKind selects what OpenSubject creates.
type SubjectKind string

const (
	KindTab    SubjectKind = "tab"
	KindWindow SubjectKind = "window"
)

// ParseKind validates a configured subject kind.
func ParseKind(s string) (SubjectKind, error) {
	switch SubjectKind(s) {
	case KindTab, KindWindow:
		return SubjectKind(s), nil
	default:
		return "", fmt.Errorf("unknown subject kind %q", s)
	}
}

// EventKind is a subject lifecycle transition.
type EventKind int

const (
	SubjectCreated EventKind = iota
	SubjectRemoved
)

func (k EventKind) String() string {
	switch k {
	case SubjectCreated:
		return "created"
	case SubjectRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports a subject lifecycle transition.
type Event struct {
	Kind    EventKind
	Subject id.SubjectID
}

// Host is the privileged browser process.
//
// Blocking methods may take as long as the browser does; callers that own an
// event loop run them off-loop. Subscribe callbacks run on a host goroutine
// and must not block.
type Host interface {
	OpenSubject(ctx context.Context, url string, kind SubjectKind) (id.SubjectID, error)
	RemoveSubject(ctx context.Context, subject id.SubjectID) error
	Subjects(ctx context.Context) ([]id.SubjectID, error)
	// Terminate closes the browser. Done is closed afterwards.
	Terminate(ctx context.Context) error
	Resize(ctx context.Context, width, height int) error
	Zoom(ctx context.Context, factor float64) error
	Subscribe(fn func(Event)) (cancel func())
	Done() <-chan struct{}
}

// MemoryProbe is implemented by hosts that expose memory diagnostics.
type MemoryProbe interface {
	SimulateMemoryPressure(ctx context.Context) error
	CollectGarbage(ctx context.Context) error
	// ObjectCounts samples live-object counts keyed by class name.
	ObjectCounts(ctx context.Context) (map[string]int64, error)
}
