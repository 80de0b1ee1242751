package harness

// State is the harness round state.
type State int

const (
	Idle State = iota
	Launching
	Running
	SelfClosed
	TimedOut
	Stalled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Launching:
		return "launching"
	case Running:
		return "running"
	case SelfClosed:
		return "self_closed"
	case TimedOut:
		return "timed_out"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Recorder receives round outcomes, typically to export them as metrics.
type Recorder interface {
	RoundCompleted(outcome State, seconds float64)
	LaunchFailed()
	RemovalFailed()
}

type nopRecorder struct{}

func (nopRecorder) RoundCompleted(State, float64) {}
func (nopRecorder) LaunchFailed()                 {}
func (nopRecorder) RemovalFailed()                {}
