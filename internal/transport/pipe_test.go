package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

func collect(t *testing.T, p Port, n int) <-chan []protocol.Message {
	t.Helper()
	out := make(chan []protocol.Message, 1)
	got := make([]protocol.Message, 0, n)
	p.OnMessage(func(m protocol.Message) {
		got = append(got, m)
		if len(got) == n {
			out <- got
		}
	})
	return out
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := Pipe(nil)
	defer a.Close()
	defer b.Close()

	const n = 500
	done := collect(t, b, n)
	for i := 0; i < n; i++ {
		a.Send(protocol.New(protocol.CmdZoom, map[string]any{"factor": i}))
	}

	select {
	case got := <-done:
		for i, m := range got {
			f, ok := m.Float("factor")
			require.True(t, ok)
			assert.Equal(t, float64(i), f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}
}

func TestPipeHoldsMessagesUntilHandler(t *testing.T) {
	a, b := Pipe(nil)
	defer a.Close()
	defer b.Close()

	a.Send(protocol.New(protocol.CmdQuitApplication, nil))
	a.Send(protocol.New(protocol.CmdQuitApplicationSoon, nil))

	done := collect(t, b, 2)
	select {
	case got := <-done:
		assert.Equal(t, protocol.CmdQuitApplication, got[0].Cmd)
		assert.Equal(t, protocol.CmdQuitApplicationSoon, got[1].Cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("buffered messages not delivered")
	}
}

func TestPipeIsDuplex(t *testing.T) {
	a, b := Pipe(nil)
	defer a.Close()
	defer b.Close()

	fromA := collect(t, b, 1)
	fromB := collect(t, a, 1)
	a.Send(protocol.New(protocol.CmdCacheGet, map[string]any{"key": "k", "token": 1}))
	b.Send(protocol.NewCacheGetHit(1, "v"))

	for _, ch := range []<-chan []protocol.Message{fromA, fromB} {
		select {
		case got := <-ch:
			assert.Equal(t, protocol.CmdCacheGet, got[0].Cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("no delivery")
		}
	}
}

func TestPipeSendToClosedPeerIsSwallowed(t *testing.T) {
	a, b := Pipe(nil)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.NotPanics(t, func() {
		a.Send(protocol.New(protocol.CmdQuitApplication, nil))
	})

	require.NoError(t, a.Close())
	assert.NotPanics(t, func() {
		a.Send(protocol.New(protocol.CmdQuitApplication, nil))
	})
}
