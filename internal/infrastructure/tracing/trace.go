package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
)

const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// Span is one traced operation.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	mu   sync.Mutex
	tags map[string]string
}

// SetTag records a key/value on the span. Safe on a nil span.
func (s *Span) SetTag(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.tags[key] = value
	s.mu.Unlock()
}

// Tags returns a copy of the span's tags.
func (s *Span) Tags() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// Finish stamps the span's duration.
func (s *Span) Finish() { s.Duration = time.Since(s.Start) }

// Tracer hands finished spans to a collector goroutine that logs them.
type Tracer struct {
	logger *logging.Logger
	spans  chan *Span
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New starts a tracer. Close it to flush pending spans.
func New(logger *logging.Logger) *Tracer {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracer{
		logger: logger.Named("trace"),
		spans:  make(chan *Span, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span, continuing the trace carried by ctx if any.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceID(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   id.NewSpanID(),
		ParentID: SpanID(ctx),
		Name:     name,
		Start:    time.Now(),
		tags:     make(map[string]string),
	}
	return span, context.WithValue(ctx, spanKey{}, span)
}

// Submit queues a finished span. Spans are dropped when the buffer is full
// or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	select {
	case <-t.quit:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
		)
	}
}

// Close stops the collector after draining queued spans.
func (t *Tracer) Close() {
	t.once.Do(func() { close(t.quit) })
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for {
		select {
		case span := <-t.spans:
			t.log(span)
		case <-t.quit:
			for {
				select {
				case span := <-t.spans:
					t.log(span)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracer) log(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}
	for k, v := range span.Tags() {
		fields = append(fields, zap.String(k, v))
	}
	if span.Err != nil {
		t.logger.Error("span completed with error", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("span completed", fields...)
}

type (
	spanKey   struct{}
	remoteKey struct{}
)

type remote struct{ traceID, spanID string }

// WithRemote seeds ctx with a trace continued from a caller's headers.
func WithRemote(ctx context.Context, traceID, spanID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteKey{}, remote{traceID, spanID})
}

// FromContext returns the active span, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// TraceID returns the trace ctx belongs to, or "".
func TraceID(ctx context.Context) string {
	if span := FromContext(ctx); span != nil {
		return span.TraceID
	}
	r, _ := ctx.Value(remoteKey{}).(remote)
	return r.traceID
}

// SpanID returns the id of the innermost span in ctx, or "".
func SpanID(ctx context.Context) string {
	if span := FromContext(ctx); span != nil {
		return span.SpanID
	}
	r, _ := ctx.Value(remoteKey{}).(remote)
	return r.spanID
}
