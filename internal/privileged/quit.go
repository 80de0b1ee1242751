package privileged

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
)

const (
	DefaultQuitSoonDelay   = 4000 * time.Millisecond
	DefaultLeakSettleDelay = 4000 * time.Millisecond
	DefaultPressureRounds  = 10
)

// QuitConfig wires a QuitSequence.
type QuitConfig struct {
	Host           host.Host
	Scheduler      eventloop.Scheduler
	SoonDelay      time.Duration
	SettleDelay    time.Duration
	PressureRounds int
	Baseline       *Baseline
	Metrics        Metrics
	Logger         *logging.Logger
}

// QuitSequence shuts the browser down exactly once, however many times and
// from however many places it is asked to.
type QuitSequence struct {
	host           host.Host
	sched          eventloop.Scheduler
	soonDelay      time.Duration
	settleDelay    time.Duration
	pressureRounds int
	baseline       *Baseline
	metrics        Metrics
	warn           *logging.Once
	logger         *logging.Logger

	quitting     atomic.Bool
	leakChecking atomic.Bool
}

// NewQuitSequence creates an armed quit sequence.
func NewQuitSequence(cfg QuitConfig) *QuitSequence {
	if cfg.SoonDelay <= 0 {
		cfg.SoonDelay = DefaultQuitSoonDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultLeakSettleDelay
	}
	if cfg.PressureRounds <= 0 {
		cfg.PressureRounds = DefaultPressureRounds
	}
	if cfg.Baseline == nil {
		cfg.Baseline = DefaultBaseline()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	q := &QuitSequence{
		host:           cfg.Host,
		sched:          cfg.Scheduler,
		soonDelay:      cfg.SoonDelay,
		settleDelay:    cfg.SettleDelay,
		pressureRounds: cfg.PressureRounds,
		baseline:       cfg.Baseline,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.Named("quit"),
	}
	q.warn = logging.NewOnce(q.logger)
	return q
}

// Quitting reports whether the quit sequence has started.
func (q *QuitSequence) Quitting() bool {
	return q.quitting.Load()
}

// RequestQuit closes every subject and terminates the browser. Only the
// first call does anything; it blocks until the host has been told to
// terminate and reports whether this call ran the sequence.
func (q *QuitSequence) RequestQuit(ctx context.Context, reason string) bool {
	if !q.quitting.CompareAndSwap(false, true) {
		q.logger.Info("already quitting", zap.String("reason", reason))
		return false
	}

	q.logger.Info("quitting", zap.String("reason", reason))
	q.metrics.QuitExecuted(reason)
	q.closeAll(ctx)
	if err := q.host.Terminate(ctx); err != nil {
		q.logger.Error("terminate failed", zap.Error(err))
	}
	return true
}

// RequestQuitSoon runs RequestQuit after the configured delay.
func (q *QuitSequence) RequestQuitSoon(ctx context.Context, reason string) eventloop.Timer {
	q.logger.Debug("quit scheduled", zap.Duration("delay", q.soonDelay), zap.String("reason", reason))
	return q.sched.AfterFunc(q.soonDelay, func() {
		go q.RequestQuit(ctx, reason)
	})
}

// RequestQuitWithLeakCheck closes subjects (unless leaveOpen), lets the
// browser settle and drain, compares live-object counts with the baseline
// and then quits. It runs at most once; later calls return false and a nil
// report.
func (q *QuitSequence) RequestQuitWithLeakCheck(ctx context.Context, leaveOpen bool) (*LeakReport, bool) {
	if !q.leakChecking.CompareAndSwap(false, true) {
		q.logger.Info("leak check already running")
		return nil, false
	}
	defer q.RequestQuit(ctx, "leak check")

	if !leaveOpen {
		q.closeAll(ctx)
	}

	select {
	case <-time.After(q.settleDelay):
	case <-ctx.Done():
		q.logger.Warn("leak check cancelled", zap.Error(ctx.Err()))
		return nil, true
	}

	probe, ok := q.host.(host.MemoryProbe)
	if !ok {
		q.warn.Warn("memory_probe", "host has no memory diagnostics, skipping leak check")
		return nil, true
	}

	q.drain(ctx, probe)

	counts, err := probe.ObjectCounts(ctx)
	if err != nil {
		if errors.Is(err, host.ErrUnsupported) {
			q.warn.Warn("object_counts", "host cannot count live objects, skipping leak check")
		} else {
			q.logger.Error("object counts unavailable", zap.Error(err))
		}
		return nil, true
	}

	report := q.baseline.Compare(counts, leaveOpen)
	if report.Compared == 0 {
		q.logger.Warn("baseline shares no classes with the host's counts, nothing compared",
			zap.Strings("reported", slices.Sorted(maps.Keys(counts))),
		)
	}
	for _, line := range report.Lines() {
		q.logger.Warn(line)
	}
	q.metrics.LeaksReported(len(report.Leaked), len(report.Odd))
	return report, true
}

// drain sends memory-pressure notifications with a garbage collection
// after every odd-numbered one, giving deferred finalization a chance to
// run before objects are counted.
func (q *QuitSequence) drain(ctx context.Context, probe host.MemoryProbe) {
	for i := 1; i <= q.pressureRounds; i++ {
		q.logger.Debug("memory pressure", zap.Int("round", i))
		if err := probe.SimulateMemoryPressure(ctx); err != nil {
			q.logUnsupported("memory_pressure", err)
		}
		if i == q.pressureRounds || i%2 == 0 {
			continue
		}
		if err := probe.CollectGarbage(ctx); err != nil {
			q.logUnsupported("collect_garbage", err)
		}
	}
}

func (q *QuitSequence) closeAll(ctx context.Context) {
	subjects, err := q.host.Subjects(ctx)
	if err != nil {
		q.logger.Error("listing subjects failed", zap.Error(err))
		return
	}
	for _, sub := range subjects {
		if err := q.host.RemoveSubject(ctx, sub); err != nil {
			q.logger.Warn("closing subject failed", zap.String("subject", sub.String()), zap.Error(err))
		}
	}
}

func (q *QuitSequence) logUnsupported(capability string, err error) {
	if errors.Is(err, host.ErrUnsupported) {
		q.warn.Warn(capability, "host capability unavailable")
		return
	}
	q.logger.Warn("memory probe failed", zap.String("capability", capability), zap.Error(err))
}
