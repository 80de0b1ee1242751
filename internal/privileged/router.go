package privileged

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

// Window bounds accepted by resizeTo.
const (
	MinWidth  = 200
	MaxWidth  = 4000
	MinHeight = 200
	MaxHeight = 2250
)

// HarnessStarter starts test rotation. Implemented by *harness.Harness.
type HarnessStarter interface {
	Start(timeoutMs int64, location string)
}

type handlerFunc func(msg protocol.Message, reply func(protocol.Message))

// RouterConfig wires a Router.
type RouterConfig struct {
	Host    host.Host
	Harness HarnessStarter
	Quit    *QuitSequence
	Cache   *Cache
	Metrics Metrics
	Logger  *logging.Logger
}

// Router dispatches content commands to their handlers.
type Router struct {
	ctx      context.Context
	host     host.Host
	harness  HarnessStarter
	quit     *QuitSequence
	cache    *Cache
	metrics  Metrics
	warn     *logging.Once
	logger   *logging.Logger
	handlers map[protocol.Command]handlerFunc
}

// NewRouter builds a router. ctx bounds the host actions it starts.
func NewRouter(ctx context.Context, cfg RouterConfig) *Router {
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	r := &Router{
		ctx:     ctx,
		host:    cfg.Host,
		harness: cfg.Harness,
		quit:    cfg.Quit,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.Named("router"),
	}
	r.warn = logging.NewOnce(r.logger)
	r.handlers = map[protocol.Command]handlerFunc{
		protocol.CmdQuitApplication:     r.quitApplication,
		protocol.CmdQuitApplicationSoon: r.quitApplicationSoon,
		protocol.CmdGrizzlyHarness:      r.grizzlyHarness,
		protocol.CmdResizeTo:            r.resizeTo,
		protocol.CmdZoom:                r.zoom,
		protocol.CmdCacheGet:            r.cacheGet,
		protocol.CmdCacheSet:            r.cacheSet,
	}
	return r
}

// Handles reports whether cmd has a handler.
func (r *Router) Handles(cmd protocol.Command) bool {
	_, ok := r.handlers[cmd]
	return ok
}

// Dispatch runs the handler for msg. reply sends a response back over the
// channel msg arrived on. Must be called on the privileged loop.
func (r *Router) Dispatch(msg protocol.Message, reply func(protocol.Message)) {
	handler, ok := r.handlers[msg.Cmd]
	if !ok {
		r.metrics.UnknownCommand()
		r.logger.Warn("unhandled message from content", zap.String("cmd", msg.Cmd.String()))
		return
	}
	r.metrics.CommandReceived(msg.Cmd.String())
	handler(msg, reply)
}

// Bind routes everything arriving on port through loop into Dispatch.
func (r *Router) Bind(port transport.Port, loop eventloop.Scheduler) {
	port.OnMessage(func(msg protocol.Message) {
		loop.Post(func() { r.Dispatch(msg, port.Send) })
	})
}

func (r *Router) quitApplication(protocol.Message, func(protocol.Message)) {
	go r.quit.RequestQuit(r.ctx, "quitApplication")
}

func (r *Router) quitApplicationSoon(protocol.Message, func(protocol.Message)) {
	r.quit.RequestQuitSoon(r.ctx, "quitApplicationSoon")
}

func (r *Router) grizzlyHarness(msg protocol.Message, _ func(protocol.Message)) {
	if r.harness == nil {
		r.warn.Warn("harness", "harness not available")
		return
	}
	location, ok := msg.Text(protocol.ParamLocation)
	if !ok {
		r.missing(msg, protocol.ParamLocation)
		return
	}
	timeout, _ := msg.Int(protocol.ParamTimeout)
	r.harness.Start(timeout, location)
}

func (r *Router) resizeTo(msg protocol.Message, _ func(protocol.Message)) {
	width, ok := r.number(msg, protocol.ParamWidth)
	if !ok {
		return
	}
	height, ok := r.number(msg, protocol.ParamHeight)
	if !ok {
		return
	}
	w, h := ClampSize(width, height)
	r.act(msg.Cmd, func(ctx context.Context) error {
		return r.host.Resize(ctx, w, h)
	})
}

func (r *Router) zoom(msg protocol.Message, _ func(protocol.Message)) {
	factor, ok := r.number(msg, protocol.ParamFactor)
	if !ok {
		return
	}
	r.act(msg.Cmd, func(ctx context.Context) error {
		return r.host.Zoom(ctx, factor)
	})
}

func (r *Router) cacheGet(msg protocol.Message, reply func(protocol.Message)) {
	token, ok := msg.Int(protocol.ParamToken)
	if !ok {
		r.logger.Warn("cacheGet without token dropped")
		return
	}
	key, ok := msg.Text(protocol.ParamKey)
	if !ok {
		r.missing(msg, protocol.ParamKey)
		r.metrics.CacheLookup(false)
		reply(protocol.NewCacheGetMiss(token))
		return
	}
	r.cache.Get(key, token, reply)
}

func (r *Router) cacheSet(msg protocol.Message, _ func(protocol.Message)) {
	key, ok := msg.Text(protocol.ParamKey)
	if !ok {
		r.missing(msg, protocol.ParamKey)
		return
	}
	value, ok := msg.Value(protocol.ParamValue)
	if !ok {
		r.missing(msg, protocol.ParamValue)
		return
	}
	r.cache.Set(key, value)
}

// number reads a numeric parameter, logging when it is absent or not a
// finite number.
func (r *Router) number(msg protocol.Message, name string) (float64, bool) {
	if !msg.Has(name) {
		r.missing(msg, name)
		return 0, false
	}
	f, ok := msg.Float(name)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		r.logger.Warn("invalid parameter",
			zap.String("cmd", msg.Cmd.String()),
			zap.String("param", name),
			zap.Any("value", msg.Params[name]),
		)
		return 0, false
	}
	return f, true
}

func (r *Router) missing(msg protocol.Message, name string) {
	r.logger.Warn("missing parameter", zap.String("cmd", msg.Cmd.String()), zap.String("param", name))
}

// act runs a host action off-loop.
func (r *Router) act(cmd protocol.Command, fn func(ctx context.Context) error) {
	go func() {
		err := fn(r.ctx)
		switch {
		case err == nil:
		case errors.Is(err, host.ErrUnsupported):
			r.warn.Warn(cmd.String(), "host cannot perform action")
		default:
			r.logger.Error("host action failed", zap.String("cmd", cmd.String()), zap.Error(err))
		}
	}()
}

// ClampSize bounds a requested window size.
func ClampSize(width, height float64) (int, int) {
	return int(clamp(MinWidth, width, MaxWidth)), int(clamp(MinHeight, height, MaxHeight))
}

func clamp(lo, v, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
