package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
)

func newTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(logging.Wrap(zap.New(core))), logs
}

func TestStartSpanContinuesTrace(t *testing.T) {
	tracer, _ := newTracer(t)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Empty(t, root.ParentID)
	assert.Same(t, child, FromContext(childCtx))
	assert.Equal(t, child.SpanID, SpanID(childCtx))
}

func TestStartSpanFromRemote(t *testing.T) {
	tracer, _ := newTracer(t)
	defer tracer.Close()

	ctx := WithRemote(context.Background(), "trace_remote", "span_remote")
	span, _ := tracer.StartSpan(ctx, "op")
	assert.Equal(t, "trace_remote", span.TraceID)
	assert.Equal(t, "span_remote", span.ParentID)

	assert.Equal(t, context.Background(), WithRemote(context.Background(), "", "x"))
}

func TestCloseFlushesSpans(t *testing.T) {
	tracer, logs := newTracer(t)

	ok, _ := tracer.StartSpan(context.Background(), "ok")
	ok.SetTag("quit.mode", "now")
	ok.Finish()
	tracer.Submit(ok)

	failed, _ := tracer.StartSpan(context.Background(), "failed")
	failed.Err = errors.New("boom")
	failed.Finish()
	tracer.Submit(failed)

	tracer.Close()
	tracer.Submit(ok)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "span completed", entries[0].Message)
	assert.Equal(t, "now", entries[0].ContextMap()["quit.mode"])
	assert.Equal(t, "span completed with error", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestNilSpanTagging(t *testing.T) {
	assert.NotPanics(t, func() { FromContext(context.Background()).SetTag("k", "v") })
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newTracer(t)

	var seen *Span
	r := gin.New()
	r.Use(Middleware(tracer))
	r.GET("/harness", func(c *gin.Context) {
		seen = FromContext(c.Request.Context())
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/harness", nil)
	req.Header.Set(HeaderTraceID, "trace_abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.NotNil(t, seen)
	assert.Equal(t, "trace_abc", w.Header().Get(HeaderTraceID))
	assert.Equal(t, seen.SpanID, w.Header().Get(HeaderSpanID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))

	tracer.Close()
	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "GET /harness", entries[0].ContextMap()["operation"])
	assert.Equal(t, int64(http.StatusTeapot), entries[0].ContextMap()["status"])
	assert.Equal(t, "GET unmatched", entries[1].ContextMap()["operation"])
}
