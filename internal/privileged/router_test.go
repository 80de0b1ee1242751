package privileged

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/host/simhost"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

type mockHarness struct {
	mock.Mock
}

func (m *mockHarness) Start(timeoutMs int64, location string) {
	m.Called(timeoutMs, location)
}

type routerFixture struct {
	loop    *eventloop.Loop
	browser *simhost.Host
	harness *mockHarness
	metrics *countingMetrics
	router  *Router
	logs    *observer.ObservedLogs
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	loop := runLoop(t)
	browser := simhost.New(nil)
	logger, logs := observedLogger()
	metrics := newCountingMetrics()

	cache, err := NewCache(loop, CacheConfig{Wait: 50 * time.Millisecond, Metrics: metrics, Logger: logger})
	require.NoError(t, err)

	quit := NewQuitSequence(QuitConfig{
		Host:      browser,
		Scheduler: loop,
		SoonDelay: 20 * time.Millisecond,
		Metrics:   metrics,
		Logger:    logger,
	})
	harness := new(mockHarness)

	router := NewRouter(context.Background(), RouterConfig{
		Host:    browser,
		Harness: harness,
		Quit:    quit,
		Cache:   cache,
		Metrics: metrics,
		Logger:  logger,
	})
	return &routerFixture{loop: loop, browser: browser, harness: harness, metrics: metrics, router: router, logs: logs}
}

func (f *routerFixture) dispatch(t *testing.T, msg protocol.Message, reply func(protocol.Message)) {
	t.Helper()
	if reply == nil {
		reply = func(protocol.Message) { t.Errorf("unexpected reply to %s", msg.Cmd) }
	}
	require.NoError(t, f.loop.Do(context.Background(), func() { f.router.Dispatch(msg, reply) }))
}

func TestRouterHandlesEveryKnownCommand(t *testing.T) {
	f := newRouterFixture(t)
	for _, cmd := range protocol.KnownCommands() {
		assert.True(t, f.router.Handles(cmd), "no handler for %s", cmd)
	}
	assert.Len(t, f.router.handlers, len(protocol.KnownCommands()))
}

func TestRouterToleratesUnknownCommands(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, protocol.New("enableAccessibility", nil), nil)
	f.dispatch(t, protocol.New("", nil), nil)

	assert.Equal(t, 2, f.metrics.snapshot().unknown)
	assert.Equal(t, 2, f.logs.FilterMessage("unhandled message from content").Len())

	f.dispatch(t, protocol.New(protocol.CmdZoom, map[string]any{"factor": 2.0}), nil)
	require.Eventually(t, func() bool {
		return len(f.browser.CallsOf(simhost.OpZoom)) == 1
	}, time.Second, 5*time.Millisecond, "the channel stays usable")
}

func TestRouterResizeClamps(t *testing.T) {
	tests := []struct {
		name          string
		width, height any
		wantW, wantH  int
	}{
		{"too small and too tall", 50.0, 5000.0, 200, 2250},
		{"in range", 1000.0, 1000.0, 1000, 1000},
		{"too wide and too short", 9999.0, 10.0, 4000, 200},
		{"numeric strings", "640", " 480 ", 640, 480},
		{"fractional", 800.7, 600.2, 800, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.dispatch(t, protocol.New(protocol.CmdResizeTo, map[string]any{
				protocol.ParamWidth:  tt.width,
				protocol.ParamHeight: tt.height,
			}), nil)

			require.Eventually(t, func() bool {
				return len(f.browser.CallsOf(simhost.OpResize)) == 1
			}, time.Second, 5*time.Millisecond)
			call := f.browser.CallsOf(simhost.OpResize)[0]
			assert.Equal(t, tt.wantW, call.Width)
			assert.Equal(t, tt.wantH, call.Height)
		})
	}
}

func TestClampSize(t *testing.T) {
	w, h := ClampSize(50, 5000)
	assert.Equal(t, 200, w)
	assert.Equal(t, 2250, h)

	w, h = ClampSize(1000, 1000)
	assert.Equal(t, 1000, w)
	assert.Equal(t, 1000, h)
}

func TestRouterMissingOrInvalidParameters(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, protocol.New(protocol.CmdResizeTo, map[string]any{"width": 300.0}), nil)
	f.dispatch(t, protocol.New(protocol.CmdResizeTo, map[string]any{"height": 300.0}), nil)
	f.dispatch(t, protocol.New(protocol.CmdZoom, nil), nil)
	f.dispatch(t, protocol.New(protocol.CmdZoom, map[string]any{"factor": "huge"}), nil)
	f.dispatch(t, protocol.New(protocol.CmdCacheSet, map[string]any{"key": "k"}), nil)
	f.dispatch(t, protocol.New(protocol.CmdGrizzlyHarness, map[string]any{"timeout": 10.0}), nil)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.browser.Calls())
	assert.Equal(t, 5, f.logs.FilterMessage("missing parameter").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("invalid parameter").Len())
	f.harness.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestRouterStartsHarness(t *testing.T) {
	f := newRouterFixture(t)
	f.harness.On("Start", int64(0), "http://localhost:8000").Return().Once()
	f.harness.On("Start", int64(2500), "http://127.0.0.1:9000").Return().Once()

	f.dispatch(t, protocol.New(protocol.CmdGrizzlyHarness, map[string]any{
		"location": "http://localhost:8000",
	}), nil)
	f.dispatch(t, protocol.New(protocol.CmdGrizzlyHarness, map[string]any{
		"timeout":  2500.0,
		"location": "http://127.0.0.1:9000",
	}), nil)

	f.harness.AssertExpectations(t)
}

func TestRouterZoomPassesFactor(t *testing.T) {
	f := newRouterFixture(t)
	f.dispatch(t, protocol.New(protocol.CmdZoom, map[string]any{"factor": "1.5"}), nil)

	require.Eventually(t, func() bool {
		return len(f.browser.CallsOf(simhost.OpZoom)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.5, f.browser.CallsOf(simhost.OpZoom)[0].Factor)
}

func TestRouterQuitApplication(t *testing.T) {
	f := newRouterFixture(t)
	_, err := f.browser.OpenSubject(context.Background(), "http://localhost/a", "tab")
	require.NoError(t, err)

	f.dispatch(t, protocol.New(protocol.CmdQuitApplication, nil), nil)
	f.dispatch(t, protocol.New(protocol.CmdQuitApplication, nil), nil)

	require.Eventually(t, f.browser.Terminated, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.logs.FilterMessage("already quitting").Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.browser.CallsOf(simhost.OpRemove), 1)
	assert.Len(t, f.browser.CallsOf(simhost.OpTerminate), 1)
}

func TestRouterQuitApplicationSoon(t *testing.T) {
	f := newRouterFixture(t)
	f.dispatch(t, protocol.New(protocol.CmdQuitApplicationSoon, nil), nil)

	assert.False(t, f.browser.Terminated())
	require.Eventually(t, f.browser.Terminated, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"quitApplicationSoon"}, f.metrics.snapshot().quits)
}

func TestRouterCacheGetParameters(t *testing.T) {
	f := newRouterFixture(t)
	var r replies

	f.dispatch(t, protocol.New(protocol.CmdCacheGet, map[string]any{"key": "k"}), r.send)
	assert.Empty(t, r.all(), "no token, no response possible")
	assert.Equal(t, 1, f.logs.FilterMessage("cacheGet without token dropped").Len())

	f.dispatch(t, protocol.New(protocol.CmdCacheGet, map[string]any{"token": 3.0}), r.send)
	got := r.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Has(protocol.ParamValue))
}

func TestRouterBoundToPipe(t *testing.T) {
	f := newRouterFixture(t)
	content, privileged := transport.Pipe(nil)
	defer content.Close()
	defer privileged.Close()
	f.router.Bind(privileged, f.loop)

	responses := make(chan protocol.Message, 4)
	content.OnMessage(func(m protocol.Message) { responses <- m })

	content.Send(protocol.New(protocol.CmdCacheGet, map[string]any{"key": "blob", "token": 1}))
	content.Send(protocol.New(protocol.CmdCacheSet, map[string]any{"key": "blob", "value": []any{1.0, 2.0}}))
	content.Send(protocol.New(protocol.CmdCacheGet, map[string]any{"key": "blob", "token": 2}))
	content.Send(protocol.New(protocol.CmdCacheGet, map[string]any{"key": "nope", "token": 3}))

	for want := int64(1); want <= 3; want++ {
		select {
		case m := <-responses:
			tok, _ := m.Int(protocol.ParamToken)
			assert.Equal(t, want, tok)
			assert.Equal(t, want != 3, m.Has(protocol.ParamValue))
		case <-time.After(2 * time.Second):
			t.Fatalf("no response for token %d", want)
		}
	}
	snap := f.metrics.snapshot()
	assert.Equal(t, 2, snap.hits)
	assert.Equal(t, 1, snap.misses)
}
