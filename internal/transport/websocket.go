package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8 << 20
)

// WebSocketConfig tunes a WebSocketPort.
type WebSocketConfig struct {
	// RPS and Burst bound inbound messages. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
	// OnDrop is called for every inbound message discarded by the limiter
	// or by the decoder.
	OnDrop func(reason string)
}

// WebSocketPort is a Port over a websocket connection.
type WebSocketPort struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbox   *mailbox
	limiter *rate.Limiter
	onDrop  func(string)
	logger  *logging.Logger

	closeOnce sync.Once
	done      chan struct{}

	lastDropLog time.Time
	suppressed  int
}

// NewWebSocketPort takes ownership of conn and starts its read and ping
// loops.
func NewWebSocketPort(conn *websocket.Conn, cfg WebSocketConfig, logger *logging.Logger) *WebSocketPort {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &WebSocketPort{
		conn:   conn,
		inbox:  newMailbox(),
		onDrop: cfg.OnDrop,
		logger: logger.Named("ws").With(zap.String("remote", conn.RemoteAddr().String())),
		done:   make(chan struct{}),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	go p.readPump()
	go p.pingPump()
	return p
}

func (p *WebSocketPort) Send(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		p.logger.Error("encode failed", zap.String("cmd", msg.Cmd.String()), zap.Error(err))
		return
	}

	select {
	case <-p.done:
		p.logger.Debug("send on closed port", zap.String("cmd", msg.Cmd.String()))
		return
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.logger.Warn("send failed", zap.String("cmd", msg.Cmd.String()), zap.Error(err))
	}
}

func (p *WebSocketPort) OnMessage(handler func(protocol.Message)) {
	p.inbox.setHandler(handler)
}

// Done is closed when the port has shut down, locally or by the peer.
func (p *WebSocketPort) Done() <-chan struct{} {
	return p.done
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once.
func (p *WebSocketPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.inbox.close()

		p.writeMu.Lock()
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = p.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()

		err = p.conn.Close()
	})
	return err
}

func (p *WebSocketPort) readPump() {
	defer p.Close()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				p.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			p.logger.Warn("malformed frame dropped", zap.Int("bytes", len(data)), zap.Error(err))
			if p.onDrop != nil {
				p.onDrop("malformed")
			}
			continue
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.drop("rate_limited", msg)
			continue
		}
		p.inbox.push(msg)
	}
}

// drop runs on the read goroutine only. A dropped cacheGet is answered
// with a miss so the page's pending request settles.
func (p *WebSocketPort) drop(reason string, msg protocol.Message) {
	if p.onDrop != nil {
		p.onDrop(reason)
	}
	if msg.Cmd == protocol.CmdCacheGet {
		if token, ok := msg.Int(protocol.ParamToken); ok {
			p.Send(protocol.NewCacheGetMiss(token))
		}
	}

	p.suppressed++
	now := time.Now()
	if now.Sub(p.lastDropLog) >= time.Second {
		p.logger.Warn("inbound message dropped",
			zap.String("reason", reason),
			zap.String("cmd", msg.Cmd.String()),
			zap.Int("dropped", p.suppressed),
		)
		p.lastDropLog = now
		p.suppressed = 0
		return
	}
	p.logger.Debug("inbound message dropped", zap.String("reason", reason), zap.String("cmd", msg.Cmd.String()))
}

func (p *WebSocketPort) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := p.conn.WriteMessage(websocket.PingMessage, nil)
			p.writeMu.Unlock()
			if err != nil {
				p.logger.Debug("ping failed", zap.Error(err))
				p.Close()
				return
			}
		}
	}
}
