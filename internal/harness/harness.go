package harness

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
)

const (
	// DefaultTimeout applies when the requested limit is not positive.
	DefaultTimeout = 5000 * time.Millisecond

	// MaxTimeout is the longest limit a time.Duration can hold in whole
	// milliseconds. Larger requests are clamped to it.
	MaxTimeout = time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond

	FirstPath = "/first_test"
	NextPath  = "/next_test"

	// durations kept for Status statistics
	maxSamples = 1024
)

// Options configures a Harness.
type Options struct {
	Kind     host.SubjectKind
	Recorder Recorder
	Logger   *logging.Logger
}

// Harness is the test rotation state machine.
type Harness struct {
	ctx      context.Context
	loop     eventloop.Scheduler
	host     host.Host
	kind     host.SubjectKind
	recorder Recorder
	logger   *logging.Logger

	state    State
	runID    id.RunID
	location string
	timeout  time.Duration
	current  string
	next     string
	active   id.SubjectID
	timer    eventloop.Timer
	gen      uint64
	started  time.Time
	stopped  bool

	// subjects removed while their open call was still in flight
	removedEarly map[id.SubjectID]struct{}

	counts  map[State]int
	samples []float64

	unsubscribe func()
}

// New creates an idle harness and subscribes it to h's lifecycle events.
// ctx bounds the host calls made on the harness's behalf.
func New(ctx context.Context, loop eventloop.Scheduler, h host.Host, opts Options) *Harness {
	if opts.Kind == "" {
		opts.Kind = host.KindTab
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	hr := &Harness{
		ctx:          ctx,
		loop:         loop,
		host:         h,
		kind:         opts.Kind,
		recorder:     opts.Recorder,
		logger:       opts.Logger.Named("harness"),
		removedEarly: make(map[id.SubjectID]struct{}),
		counts:       make(map[State]int),
	}
	hr.unsubscribe = h.Subscribe(func(ev host.Event) {
		loop.Post(func() { hr.onEvent(ev) })
	})
	return hr
}

// Start begins rotating test cases served from location. A non-positive
// timeoutMs selects DefaultTimeout. Start is ignored while a rotation is
// already active; a stalled harness may be restarted.
func (h *Harness) Start(timeoutMs int64, location string) {
	if h.stopped {
		h.logger.Warn("harness stopped, start ignored")
		return
	}
	if h.state != Idle && h.state != Stalled {
		h.logger.Warn("harness already running, start ignored",
			zap.String("run", h.runID.String()),
			zap.String("location", location),
		)
		return
	}

	if timeoutMs <= 0 {
		h.logger.Info("No time limit given, using default of 5s")
		h.timeout = DefaultTimeout
	} else if timeoutMs > MaxTimeout.Milliseconds() {
		h.logger.Warn("time limit too large, clamping",
			zap.Int64("timeout_ms", timeoutMs),
			zap.Duration("max", MaxTimeout),
		)
		h.timeout = MaxTimeout
	} else {
		h.logger.Info("Using time limit", zap.Int64("timeout_ms", timeoutMs))
		h.timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	h.location = location
	h.next = FirstPath
	h.runID = id.NewRunID()
	h.logger.Info("harness started",
		zap.String("run", h.runID.String()),
		zap.String("location", location),
		zap.Duration("timeout", h.timeout),
	)
	h.launch()
}

// Stop cancels the pending timer and detaches from host events. Shutdown
// calls it on the loop before quitting; a stopped harness never restarts.
func (h *Harness) Stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.unsubscribe()
}

// Timeout is the round limit in effect.
func (h *Harness) Timeout() time.Duration {
	return h.timeout
}

// State is the current round state.
func (h *Harness) State() State {
	return h.state
}

// Active is the subject of the running round, if any.
func (h *Harness) Active() (id.SubjectID, bool) {
	return h.active, !h.active.IsZero()
}

func (h *Harness) launch() {
	h.gen++
	gen := h.gen
	url := h.location + h.next
	h.current = h.next
	h.next = NextPath
	h.active = ""
	h.state = Launching
	h.started = time.Now()
	clear(h.removedEarly)

	h.timer = h.loop.AfterFunc(h.timeout, func() { h.onTimeout(gen) })

	go func() {
		sub, err := h.host.OpenSubject(h.ctx, url, h.kind)
		h.loop.Post(func() { h.onOpened(gen, url, sub, err) })
	}()
}

func (h *Harness) onOpened(gen uint64, url string, sub id.SubjectID, err error) {
	if gen != h.gen {
		if err == nil {
			h.logger.Debug("removing subject opened for a finished round",
				zap.String("subject", sub.String()))
			h.remove(sub)
		}
		return
	}

	if err != nil {
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.state = Stalled
		h.logger.Error("error launching test case", zap.String("url", url), zap.Error(err))
		h.recorder.LaunchFailed()
		h.finish(Stalled)
		return
	}

	h.active = sub
	h.state = Running
	if _, gone := h.removedEarly[sub]; gone {
		h.selfClosed()
	}
}

func (h *Harness) onTimeout(gen uint64) {
	if gen != h.gen {
		return
	}
	h.timer = nil
	sub := h.active
	h.active = ""
	h.state = TimedOut
	h.logger.Info("Time limit exceeded",
		zap.String("path", h.current),
		zap.String("subject", sub.String()),
	)
	if !sub.IsZero() {
		h.remove(sub)
	}
	h.finish(TimedOut)
	h.launch()
}

func (h *Harness) onEvent(ev host.Event) {
	if h.stopped || ev.Kind != host.SubjectRemoved {
		return
	}
	switch h.state {
	case Launching:
		h.removedEarly[ev.Subject] = struct{}{}
	case Running:
		if ev.Subject == h.active {
			h.selfClosed()
		}
	}
}

func (h *Harness) selfClosed() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.active = ""
	h.state = SelfClosed
	h.logger.Info("Test case closed itself", zap.String("path", h.current))
	h.finish(SelfClosed)
	h.launch()
}

// remove closes sub off-loop; failures are logged and never block rotation.
func (h *Harness) remove(sub id.SubjectID) {
	go func() {
		err := h.host.RemoveSubject(h.ctx, sub)
		h.loop.Post(func() {
			if err != nil {
				h.logger.Warn("Error closing test case", zap.String("subject", sub.String()), zap.Error(err))
				h.recorder.RemovalFailed()
				return
			}
			h.logger.Debug("Closed test case", zap.String("subject", sub.String()))
		})
	}()
}

func (h *Harness) finish(outcome State) {
	elapsed := time.Since(h.started).Seconds()
	h.counts[outcome]++
	if len(h.samples) == maxSamples {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:maxSamples-1]
	}
	h.samples = append(h.samples, elapsed*1000)
	h.recorder.RoundCompleted(outcome, elapsed)
}

// Status is a point-in-time view of the harness.
type Status struct {
	State      string  `json:"state"`
	RunID      string  `json:"run_id,omitempty"`
	Location   string  `json:"location,omitempty"`
	Path       string  `json:"path,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	TimeoutMs  int64   `json:"timeout_ms"`
	Rounds     int     `json:"rounds"`
	SelfClosed int     `json:"self_closed"`
	TimedOut   int     `json:"timed_out"`
	Stalled    int     `json:"stalled"`
	MeanMs     float64 `json:"round_mean_ms"`
	StdDevMs   float64 `json:"round_stddev_ms"`
}

// Status snapshots the harness.
func (h *Harness) Status() Status {
	s := Status{
		State:      h.state.String(),
		RunID:      h.runID.String(),
		Location:   h.location,
		Path:       h.current,
		Subject:    h.active.String(),
		TimeoutMs:  h.timeout.Milliseconds(),
		SelfClosed: h.counts[SelfClosed],
		TimedOut:   h.counts[TimedOut],
		Stalled:    h.counts[Stalled],
	}
	s.Rounds = s.SelfClosed + s.TimedOut + s.Stalled
	switch len(h.samples) {
	case 0:
	case 1:
		s.MeanMs = h.samples[0]
	default:
		s.MeanMs, s.StdDevMs = stat.MeanStdDev(h.samples, nil)
	}
	return s
}
