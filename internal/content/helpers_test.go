package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

func runLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New()
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func observedLogger() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.Wrap(zap.New(core)), logs
}

// background is the privileged end of a pipe, recording what the page sends.
type background struct {
	port transport.Port
	mu   sync.Mutex
	got  []protocol.Message
}

func newBackground(t *testing.T) (*background, transport.Port) {
	t.Helper()
	page, priv := transport.Pipe(nil)
	b := &background{port: priv}
	priv.OnMessage(func(m protocol.Message) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.got = append(b.got, m)
	})
	t.Cleanup(func() {
		_ = page.Close()
		_ = priv.Close()
	})
	return b, page
}

func (b *background) messages() []protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Message(nil), b.got...)
}

// wait blocks until n messages have arrived.
func (b *background) wait(t *testing.T, n int) []protocol.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(b.messages()) >= n }, time.Second, 5*time.Millisecond)
	return b.messages()
}
