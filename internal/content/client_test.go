package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/fuzzpriv/internal/ledger"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

type fakeWindow struct {
	mu     sync.Mutex
	closed int
	opened []string
}

func (w *fakeWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
}

func (w *fakeWindow) Open(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, url)
}

type countingGC struct{ n int }

func (g *countingGC) GC() { g.n++ }

func TestClientCommands(t *testing.T) {
	bg, port := newBackground(t)
	c := NewClient(port, runLoop(t), ClientOptions{})

	c.QuitApplication()
	c.QuitApplicationSoon()
	c.ResizeTo(50, "5000")
	c.Zoom(1.5)
	c.Set("k", map[string]any{"a": 1})
	c.StartHarness(2000, "http://localhost:8000")

	got := bg.wait(t, 6)
	cmds := make([]protocol.Command, len(got))
	for i, m := range got {
		cmds[i] = m.Cmd
	}
	assert.Equal(t, []protocol.Command{
		protocol.CmdQuitApplication,
		protocol.CmdQuitApplicationSoon,
		protocol.CmdResizeTo,
		protocol.CmdZoom,
		protocol.CmdCacheSet,
		protocol.CmdGrizzlyHarness,
	}, cmds)

	w, _ := got[2].Value(protocol.ParamWidth)
	h, _ := got[2].Value(protocol.ParamHeight)
	assert.Equal(t, 50, w)
	assert.Equal(t, "5000", h)

	loc, _ := got[5].Text(protocol.ParamLocation)
	assert.Equal(t, "http://localhost:8000", loc)
	assert.Equal(t, "[DOMFuzzHelper]", c.String())
}

func TestClientGetResolvesThroughLedger(t *testing.T) {
	bg, port := newBackground(t)
	loop := runLoop(t)
	c := NewClient(port, loop, ClientOptions{})

	k1 := c.Get("k1")
	k2 := c.Get("k2")
	got := bg.wait(t, 2)

	t1, _ := got[0].Int(protocol.ParamToken)
	t2, _ := got[1].Int(protocol.ParamToken)
	assert.Equal(t, int64(1), t1)
	assert.Equal(t, int64(2), t2)

	bg.port.Send(protocol.NewCacheGetMiss(t2))
	bg.port.Send(protocol.NewCacheGetHit(t1, "v1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := k1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	_, err = k2.Wait(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoValue)

	var outstanding int
	require.NoError(t, loop.Do(ctx, func() { outstanding = c.Outstanding() }))
	assert.Zero(t, outstanding)
}

func TestClientExplicitNullIsAValue(t *testing.T) {
	bg, port := newBackground(t)
	c := NewClient(port, runLoop(t), ClientOptions{})

	d := c.Get("k")
	got := bg.wait(t, 1)
	token, _ := got[0].Int(protocol.ParamToken)
	bg.port.Send(protocol.NewCacheGetHit(token, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := d.Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestClientUnknownTokenAndUnhandled(t *testing.T) {
	bg, port := newBackground(t)
	logger, logs := observedLogger()
	loop := runLoop(t)
	NewClient(port, loop, ClientOptions{Logger: logger})

	bg.port.Send(protocol.NewCacheGetHit(7, "x"))
	bg.port.Send(protocol.New(protocol.CmdZoom, nil))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("unknown token").Len() == 1 &&
			logs.FilterMessage("unhandled message from background").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClientCapabilities(t *testing.T) {
	t.Run("missing capabilities warn once", func(t *testing.T) {
		_, port := newBackground(t)
		logger, logs := observedLogger()
		c := NewClient(port, runLoop(t), ClientOptions{Logger: logger})

		c.GC()
		c.ForceGC()
		c.CC()
		c.CC()
		c.CloseTabThenQuit()
		c.OpenAboutNewtab()
		c.CloseTabThenQuit()
		c.OpenAboutNewtab()

		assert.Equal(t, 1, logs.FilterMessage("No garbage-collection function available.").Len())
		assert.Equal(t, 1, logs.FilterMessage("No cycle-collection function available.").Len())
		assert.Equal(t, 1, logs.FilterMessage("No window to close.").Len())
		assert.Equal(t, 1, logs.FilterMessage("No window to open from.").Len())
	})

	t.Run("present capabilities are used", func(t *testing.T) {
		bg, port := newBackground(t)
		gc := &countingGC{}
		win := &fakeWindow{}
		c := NewClient(port, runLoop(t), ClientOptions{GC: gc, Window: win})

		c.GC()
		c.ForceGC()
		c.OpenAboutNewtab()
		c.CloseTabThenQuit()

		assert.Equal(t, 2, gc.n)
		assert.Equal(t, []string{"about:newtab"}, win.opened)
		assert.Equal(t, 1, win.closed)
		got := bg.wait(t, 1)
		assert.Equal(t, protocol.CmdQuitApplicationSoon, got[0].Cmd)
	})
}
