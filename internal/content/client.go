package content

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/ledger"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

// Optional page capabilities. A Client works without any of them.
type (
	GarbageCollector interface{ GC() }
	CycleCollector   interface{ CC() }
	Window           interface {
		Close()
		Open(url string)
	}
)

// ClientOptions configures a Client.
type ClientOptions struct {
	GC     GarbageCollector
	CC     CycleCollector
	Window Window
	Logger *logging.Logger
}

// Client is the capability surface a page sees. It sends commands over a
// port and correlates cacheGet responses through a ledger.
//
// Methods that issue ledger tokens (GetWith) must run on the client's loop.
// Everything else may be called from any goroutine.
type Client struct {
	port    transport.Port
	loop    eventloop.Scheduler
	pending *ledger.Ledger
	opts    ClientOptions
	once    *logging.Once
	logger  *logging.Logger
}

// NewClient binds a client to port. Inbound messages are handled on loop.
func NewClient(port transport.Port, loop eventloop.Scheduler, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	logger := opts.Logger.Named("fuzzpriv")
	c := &Client{
		port:    port,
		loop:    loop,
		pending: ledger.New(logger),
		opts:    opts,
		once:    logging.NewOnce(logger),
		logger:  logger,
	}
	port.OnMessage(func(msg protocol.Message) {
		if !loop.Post(func() { c.handle(msg) }) {
			logger.Debug("loop stopped, response dropped", zap.String("cmd", msg.Cmd.String()))
		}
	})
	return c
}

func (c *Client) handle(msg protocol.Message) {
	if msg.Cmd != protocol.CmdCacheGet {
		c.logger.Warn("unhandled message from background", zap.String("cmd", msg.Cmd.String()))
		return
	}
	token, _ := msg.Int(protocol.ParamToken)
	outcome := ledger.Missing()
	if value, ok := msg.Value(protocol.ParamValue); ok {
		outcome = ledger.Fulfilled(value)
	}
	c.pending.Resolve(ledger.Token(token), outcome)
}

func (c *Client) QuitApplication() {
	c.logger.Info("fuzzPriv.quitApplication")
	c.port.Send(protocol.New(protocol.CmdQuitApplication, nil))
}

func (c *Client) QuitApplicationSoon() {
	c.logger.Info("fuzzPriv.quitApplicationSoon")
	c.port.Send(protocol.New(protocol.CmdQuitApplicationSoon, nil))
}

// CloseTabThenQuit asks for a delayed quit and closes the page's window.
func (c *Client) CloseTabThenQuit() {
	c.port.Send(protocol.New(protocol.CmdQuitApplicationSoon, nil))
	if c.opts.Window == nil {
		c.once.Warn("window.close", "No window to close.")
		return
	}
	c.opts.Window.Close()
}

// GetWith requests key from the privileged cache and parks cont until the
// response arrives. Must be called on the client's loop.
func (c *Client) GetWith(key any, cont ledger.Continuation) ledger.Token {
	token := c.pending.Issue(cont)
	c.port.Send(protocol.New(protocol.CmdCacheGet, map[string]any{
		protocol.ParamKey:   key,
		protocol.ParamToken: int64(token),
	}))
	return token
}

// Get is GetWith for callers off the loop.
func (c *Client) Get(key any) *ledger.Deferred {
	d := ledger.NewDeferred()
	if !c.loop.Post(func() { c.GetWith(key, d.Continuation()) }) {
		d.Reject(eventloop.ErrStopped)
	}
	return d
}

func (c *Client) Set(key, value any) {
	c.port.Send(protocol.New(protocol.CmdCacheSet, map[string]any{
		protocol.ParamKey:   key,
		protocol.ParamValue: value,
	}))
}

// GC runs the page's garbage collector if it has one.
func (c *Client) GC() {
	if c.opts.GC == nil {
		c.once.Warn("gc", "No garbage-collection function available.")
		return
	}
	c.opts.GC.GC()
}

// ForceGC is an alias of GC.
func (c *Client) ForceGC() { c.GC() }

// CC runs the page's cycle collector if it has one.
func (c *Client) CC() {
	if c.opts.CC == nil {
		c.once.Warn("cc", "No cycle-collection function available.")
		return
	}
	c.opts.CC.CC()
}

func (c *Client) OpenAboutNewtab() {
	if c.opts.Window == nil {
		c.once.Warn("window.open", "No window to open from.")
		return
	}
	c.opts.Window.Open("about:newtab")
}

// ResizeTo and Zoom forward their arguments untouched; the router validates.
func (c *Client) ResizeTo(width, height any) {
	c.port.Send(protocol.New(protocol.CmdResizeTo, map[string]any{
		protocol.ParamWidth:  width,
		protocol.ParamHeight: height,
	}))
}

func (c *Client) Zoom(factor any) {
	c.port.Send(protocol.New(protocol.CmdZoom, map[string]any{
		protocol.ParamFactor: factor,
	}))
}

// StartHarness asks the privileged side to begin test rotation.
func (c *Client) StartHarness(timeout float64, location string) {
	c.port.Send(protocol.New(protocol.CmdGrizzlyHarness, map[string]any{
		protocol.ParamTimeout:  timeout,
		protocol.ParamLocation: location,
	}))
}

// Outstanding is the number of unanswered cacheGet requests. Loop only.
func (c *Client) Outstanding() int { return c.pending.Outstanding() }

func (c *Client) String() string { return "[DOMFuzzHelper]" }
