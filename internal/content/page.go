package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/ledger"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

// DefaultScriptTimeout bounds a single script turn.
const DefaultScriptTimeout = 10 * time.Second

const harnessTitle = "🐻 ⋅ Grizzly ⋅ 🦊"

var errScriptTimeout = errors.New("script timeout exceeded")

// PageConfig configures a Page.
type PageConfig struct {
	Fetcher       *Fetcher
	ScriptTimeout time.Duration

	// Dump receives dump() output, one line per call. Defaults to stdout.
	Dump io.Writer

	// OnOpen and OnClose back window.open and window.close.
	OnOpen  func(url string)
	OnClose func()
	Logger  *logging.Logger
}

// Page is a goja runtime standing in for a browser page. Scripts see
// fuzzPriv, dump, console, timers, window and, once a document is loaded,
// document. All script execution happens on the page's loop.
type Page struct {
	vm     *goja.Runtime
	loop   *eventloop.Loop
	client *Client
	cfg    PageConfig
	doc    *document
	timers map[int64]eventloop.Timer
	nextID int64
	closed bool
	logger *logging.Logger

	// guards interrupts against firing into the next turn
	imu    sync.Mutex
	active bool
}

// NewPage creates a page whose fuzzPriv talks over port.
func NewPage(port transport.Port, loop *eventloop.Loop, cfg PageConfig) (*Page, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}
	if cfg.Dump == nil {
		cfg.Dump = os.Stdout
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(FetchConfig{Logger: cfg.Logger})
	}

	p := &Page{
		vm:     goja.New(),
		loop:   loop,
		cfg:    cfg,
		timers: make(map[int64]eventloop.Timer),
		logger: cfg.Logger.Named("page"),
	}
	p.vm.SetMaxCallStackSize(1024)
	p.client = NewClient(port, loop, ClientOptions{
		GC:     p,
		Window: pageWindow{p},
		Logger: cfg.Logger,
	})

	if err := p.setupGlobals(); err != nil {
		return nil, err
	}
	return p, nil
}

// Client returns the capability surface backing fuzzPriv.
func (p *Page) Client() *Client { return p.client }

// GC collects garbage in the host process, which owns the page's heap.
func (p *Page) GC() { runtime.GC() }

type pageWindow struct{ p *Page }

func (w pageWindow) Close() {
	w.p.closed = true
	w.p.logger.Info("window closed")
	if w.p.cfg.OnClose != nil {
		w.p.cfg.OnClose()
	}
}

func (w pageWindow) Open(url string) {
	if w.p.cfg.OnOpen == nil {
		w.p.logger.Warn("window.open unsupported", zap.String("url", url))
		return
	}
	w.p.cfg.OnOpen(url)
}

func (p *Page) setupGlobals() error {
	vm := p.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, p.consoleFunc(level))
	}

	window := vm.GlobalObject()
	_ = window.Set("window", window)
	_ = window.Set("console", console)
	_ = window.Set("fuzzPriv", p.fuzzPriv())
	_ = window.Set("dump", func(call goja.FunctionCall) goja.Value {
		fmt.Fprintln(p.cfg.Dump, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = window.Set("gc", func(goja.FunctionCall) goja.Value {
		p.GC()
		return goja.Undefined()
	})
	_ = window.Set("close", func(goja.FunctionCall) goja.Value {
		pageWindow{p}.Close()
		return goja.Undefined()
	})
	_ = window.Set("open", func(call goja.FunctionCall) goja.Value {
		pageWindow{p}.Open(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = window.Set("setTimeout", p.setTimer)
	_ = window.Set("clearTimeout", p.clearTimer)
	return nil
}

func (p *Page) fuzzPriv() *goja.Object {
	vm, c := p.vm, p.client
	obj := vm.NewObject()
	fn := func(name string, f func(call goja.FunctionCall)) {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			f(call)
			return goja.Undefined()
		})
	}

	fn("quitApplication", func(goja.FunctionCall) { c.QuitApplication() })
	fn("quitApplicationSoon", func(goja.FunctionCall) { c.QuitApplicationSoon() })
	fn("closeTabThenQuit", func(goja.FunctionCall) { c.CloseTabThenQuit() })
	fn("set", func(call goja.FunctionCall) { c.Set(call.Argument(0).Export(), call.Argument(1).Export()) })
	fn("forceGC", func(goja.FunctionCall) { c.ForceGC() })
	fn("GC", func(goja.FunctionCall) { c.GC() })
	fn("CC", func(goja.FunctionCall) { c.CC() })
	fn("openAboutNewtab", func(goja.FunctionCall) { c.OpenAboutNewtab() })
	fn("resizeTo", func(call goja.FunctionCall) { c.ResizeTo(call.Argument(0).Export(), call.Argument(1).Export()) })
	fn("zoom", func(call goja.FunctionCall) { c.Zoom(call.Argument(0).Export()) })

	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		c.GetWith(call.Argument(0).Export(), ledger.Continuation{
			Resolve: func(v any) { p.turn("cacheGet", func() { resolve(v) }) },
			Reject:  func(err error) { p.turn("cacheGet", func() { reject(err.Error()) }) },
		})
		return vm.ToValue(promise)
	})
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.String())
	})
	return obj
}

func (p *Page) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")
		switch level {
		case "warn":
			p.logger.Warn(msg, zap.String("source", "console"))
		case "error":
			p.logger.Error(msg, zap.String("source", "console"))
		case "debug":
			p.logger.Debug(msg, zap.String("source", "console"))
		default:
			p.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

func (p *Page) setTimer(call goja.FunctionCall) goja.Value {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	delay := time.Duration(call.Argument(1).ToFloat()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	p.nextID++
	id := p.nextID
	p.timers[id] = p.loop.AfterFunc(delay, func() {
		if _, live := p.timers[id]; !live || p.closed {
			return
		}
		delete(p.timers, id)
		p.turn("timer", func() {
			if _, err := cb(goja.Undefined()); err != nil {
				p.logger.Warn("uncaught exception in timer", zap.Error(err))
			}
		})
	})
	return p.vm.ToValue(id)
}

func (p *Page) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
	return goja.Undefined()
}

// turn runs fn as one script turn with the timeout armed. Loop only.
func (p *Page) turn(name string, fn func()) {
	if err := p.guard(context.Background(), func() error { fn(); return nil }); err != nil {
		p.logger.Warn("script turn failed", zap.String("turn", name), zap.Error(err))
	}
}

// guard arms the script timeout and ctx cancellation around fn.
func (p *Page) guard(ctx context.Context, fn func() error) (err error) {
	interrupt := func(reason any) {
		p.imu.Lock()
		defer p.imu.Unlock()
		if p.active {
			p.vm.Interrupt(reason)
		}
	}

	p.imu.Lock()
	p.active = true
	p.imu.Unlock()

	timer := time.AfterFunc(p.cfg.ScriptTimeout, func() { interrupt(errScriptTimeout) })
	stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
	defer func() {
		timer.Stop()
		stop()
		p.imu.Lock()
		p.active = false
		p.vm.ClearInterrupt()
		p.imu.Unlock()

		if r := recover(); r != nil {
			ex, ok := r.(*goja.InterruptedError)
			if !ok {
				panic(r)
			}
			err = ex
		}
	}()
	return fn()
}

// Eval runs src as a classic script and returns its completion value.
func (p *Page) Eval(ctx context.Context, name, src string) (any, error) {
	type result struct {
		value any
		err   error
	}
	res := make(chan result, 1)
	if err := p.loop.Do(ctx, func() {
		v, err := p.run(ctx, name, src)
		res <- result{v, err}
	}); err != nil {
		return nil, err
	}
	r := <-res
	return r.value, r.err
}

// run executes src on the loop.
func (p *Page) run(ctx context.Context, name, src string) (any, error) {
	var val goja.Value
	err := p.guard(ctx, func() error {
		var err error
		val, err = p.vm.RunScript(name, src)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Navigate acts on what url asks for: start the harness, inject and run a
// fuzzer, or nothing. Errors thrown by page scripts are returned joined;
// the remaining scripts still run.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	trig, err := ParseTrigger(rawURL)
	if err != nil {
		return err
	}
	p.logger.Info("navigate", zap.String("url", trig.Page.Redacted()), zap.Stringer("trigger", trig.Kind))

	switch trig.Kind {
	case HarnessTrigger:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(
			"<meta charset=UTF-8><title>" + harnessTitle + "</title><h1>Welcome to Grizzly</h1>"))
		if err != nil {
			return err
		}
		if err := p.loop.Do(ctx, func() { p.attach(doc) }); err != nil {
			return err
		}
		p.client.StartHarness(trig.Timeout, trig.Location)
		return nil

	case FuzzTrigger:
		page, err := p.cfg.Fetcher.Fetch(ctx, trig.Page)
		if err != nil {
			return fmt.Errorf("load page: %w", err)
		}
		fuzzer, err := p.cfg.Fetcher.Fetch(ctx, trig.ScriptURL)
		if err != nil {
			return fmt.Errorf("load fuzzer: %w", err)
		}
		doc, err := InjectFuzzer(strings.NewReader(page), BuildFuzzScript(fuzzer, trig.Settings))
		if err != nil {
			return err
		}
		var errs []error
		if err := p.loop.Do(ctx, func() { errs = p.load(ctx, doc) }); err != nil {
			return err
		}
		return errors.Join(errs...)
	}
	return nil
}

func (p *Page) attach(doc *goquery.Document) {
	p.doc = newDocument(p.vm, doc)
	_ = p.vm.Set("document", p.doc.object())
}

// load attaches doc and runs its inline scripts in document order.
func (p *Page) load(ctx context.Context, doc *goquery.Document) []error {
	p.attach(doc)

	var errs []error
	scripts := doc.Find("script")
	for i, n := range scripts.Nodes {
		s := scripts.Eq(i)
		if src, ok := s.Attr("src"); ok {
			p.logger.Debug("external script skipped", zap.String("src", src))
			continue
		}
		name := fmt.Sprintf("inline-%d", i)
		if id, ok := s.Attr("id"); ok && id != "" {
			name = id
		}
		if n.FirstChild == nil {
			continue
		}
		if _, err := p.run(ctx, name, s.Text()); err != nil {
			p.logger.Warn("script error", zap.String("script", name), zap.Error(err))
			errs = append(errs, err)
		}
		if p.closed {
			break
		}
	}
	return errs
}

// Title is the loaded document's title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.loop.Do(ctx, func() {
		if p.doc != nil {
			title = p.doc.title()
		}
	})
	return title, err
}

// Closed reports whether the page closed its window.
func (p *Page) Closed(ctx context.Context) (bool, error) {
	var closed bool
	err := p.loop.Do(ctx, func() { closed = p.closed })
	return closed, err
}

// Close cancels the page's timers.
func (p *Page) Close() {
	p.loop.Post(func() {
		for id, t := range p.timers {
			t.Stop()
			delete(p.timers, id)
		}
		p.closed = true
	})
}
