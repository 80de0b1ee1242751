package transport

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

// PipePort is one end of an in-process pipe.
type PipePort struct {
	name   string
	inbox  *mailbox
	peer   *PipePort
	closed atomic.Bool
	logger *logging.Logger
}

// Pipe returns two connected ports. Whatever one sends, the other receives,
// in order and at most once.
func Pipe(logger *logging.Logger) (*PipePort, *PipePort) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &PipePort{name: "a", inbox: newMailbox()}
	b := &PipePort{name: "b", inbox: newMailbox()}
	a.peer, b.peer = b, a
	a.logger = logger.Named("pipe").With(zap.String("end", a.name))
	b.logger = logger.Named("pipe").With(zap.String("end", b.name))
	return a, b
}

func (p *PipePort) Send(msg protocol.Message) {
	if p.closed.Load() {
		p.logger.Debug("send on closed port", zap.String("cmd", msg.Cmd.String()))
		return
	}
	if !p.peer.inbox.push(msg) {
		p.logger.Warn("peer gone, message dropped", zap.String("cmd", msg.Cmd.String()))
	}
}

func (p *PipePort) OnMessage(handler func(protocol.Message)) {
	p.inbox.setHandler(handler)
}

// Close stops delivery on this end. The peer's later sends are dropped.
func (p *PipePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.inbox.close()
	return nil
}
