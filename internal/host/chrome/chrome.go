// Package chrome drives a Chromium browser over the DevTools protocol with
// chromedp. Subjects are page targets created with Target.createTarget.
//
// chromedp attaches its root context to an initial blank page. That page
// is kept as the probe page for memory diagnostics and is never reported
// as a subject.
package chrome

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/heapprofiler"
	"github.com/chromedp/cdproto/memory"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
)

// Config selects how the browser is reached.
type Config struct {
	// ExecPath overrides the browser binary. Ignored with RemoteURL.
	ExecPath string
	// RemoteURL attaches to a running browser's DevTools websocket.
	RemoteURL string
	Headless  bool
}

type tab struct {
	target target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// Host is a host.Host backed by a real browser.
type Host struct {
	host.Broadcaster

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	probe         target.ID

	mu         sync.Mutex
	bySubject  map[id.SubjectID]*tab
	byTarget   map[target.ID]id.SubjectID
	lastOpened id.SubjectID

	logger *logging.Logger
}

// New launches or attaches to a browser and starts tracking its targets.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Host, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-popup-blocking", true),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	h := &Host{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		bySubject:     make(map[id.SubjectID]*tab),
		byTarget:      make(map[target.ID]id.SubjectID),
		logger:        logger.Named("chrome"),
	}

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	h.probe = chromedp.FromContext(browserCtx).Target.TargetID

	chromedp.ListenBrowser(browserCtx, h.onEvent)
	if err := target.SetDiscoverTargets(true).Do(h.browserExec(browserCtx)); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("discover targets: %w", err)
	}

	h.logger.Info("browser ready", zap.String("probe_target", string(h.probe)))
	return h, nil
}

func (h *Host) browserExec(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(h.browserCtx).Browser)
}

func (h *Host) onEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" || e.TargetInfo.TargetID == h.probe {
			return
		}
		sub, fresh := h.track(e.TargetInfo.TargetID)
		if fresh {
			h.Emit(host.Event{Kind: host.SubjectCreated, Subject: sub})
		}
	case *target.EventTargetDestroyed:
		sub, ok := h.untrack(e.TargetID)
		if ok {
			h.Emit(host.Event{Kind: host.SubjectRemoved, Subject: sub})
		}
	}
}

// track maps a target to a subject id, allocating one on first sight.
func (h *Host) track(tid target.ID) (id.SubjectID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.byTarget[tid]; ok {
		return sub, false
	}
	sub := id.NewSubjectID()
	h.byTarget[tid] = sub
	h.bySubject[sub] = &tab{target: tid}
	return sub, true
}

func (h *Host) untrack(tid target.ID) (id.SubjectID, bool) {
	h.mu.Lock()
	sub, ok := h.byTarget[tid]
	var t *tab
	if ok {
		t = h.bySubject[sub]
		delete(h.byTarget, tid)
		delete(h.bySubject, sub)
		if h.lastOpened == sub {
			h.lastOpened = ""
		}
	}
	h.mu.Unlock()

	if t != nil && t.cancel != nil {
		t.cancel()
	}
	return sub, ok
}

func (h *Host) OpenSubject(ctx context.Context, url string, kind host.SubjectKind) (id.SubjectID, error) {
	tid, err := target.CreateTarget(url).
		WithNewWindow(kind == host.KindWindow).
		Do(h.browserExec(ctx))
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}

	sub, fresh := h.track(tid)
	h.mu.Lock()
	h.lastOpened = sub
	h.mu.Unlock()
	if fresh {
		h.Emit(host.Event{Kind: host.SubjectCreated, Subject: sub})
	}
	return sub, nil
}

func (h *Host) RemoveSubject(ctx context.Context, subject id.SubjectID) error {
	h.mu.Lock()
	t, ok := h.bySubject[subject]
	h.mu.Unlock()
	if !ok {
		return host.ErrNoSuchSubject
	}
	if err := target.CloseTarget(t.target).Do(h.browserExec(ctx)); err != nil {
		return fmt.Errorf("close target %s: %w", t.target, err)
	}
	return nil
}

func (h *Host) Subjects(ctx context.Context) ([]id.SubjectID, error) {
	infos, err := target.GetTargets().Do(h.browserExec(ctx))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	subjects := make([]id.SubjectID, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" || info.TargetID == h.probe {
			continue
		}
		sub, _ := h.track(info.TargetID)
		subjects = append(subjects, sub)
	}
	return subjects, nil
}

func (h *Host) Terminate(ctx context.Context) error {
	err := browser.Close().Do(h.browserExec(ctx))
	h.browserCancel()
	h.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (h *Host) Done() <-chan struct{} {
	return h.browserCtx.Done()
}

func (h *Host) Resize(ctx context.Context, width, height int) error {
	t, err := h.active()
	if err != nil {
		return err
	}
	exec := h.browserExec(ctx)
	windowID, _, err := browser.GetWindowForTarget().WithTargetID(t.target).Do(exec)
	if err != nil {
		return fmt.Errorf("window for target: %w", err)
	}
	bounds := &browser.Bounds{
		Width:       int64(width),
		Height:      int64(height),
		WindowState: browser.WindowStateNormal,
	}
	if err := browser.SetWindowBounds(windowID, bounds).Do(exec); err != nil {
		return fmt.Errorf("set window bounds: %w", err)
	}
	return nil
}

func (h *Host) Zoom(ctx context.Context, factor float64) error {
	t, err := h.active()
	if err != nil {
		return err
	}
	tabCtx := h.tabContext(t)
	if err := chromedp.Run(tabCtx, emulation.SetPageScaleFactor(factor)); err != nil {
		return fmt.Errorf("set page scale: %w", err)
	}
	return nil
}

func (h *Host) SimulateMemoryPressure(ctx context.Context) error {
	return memory.SimulatePressureNotification(memory.PressureLevelCritical).Do(h.probeExec(ctx))
}

func (h *Host) CollectGarbage(ctx context.Context) error {
	return heapprofiler.CollectGarbage().Do(h.probeExec(ctx))
}

// ObjectCounts reports the renderer's DOM counters from the probe page.
func (h *Host) ObjectCounts(ctx context.Context) (map[string]int64, error) {
	documents, nodes, listeners, err := memory.GetDOMCounters().Do(h.probeExec(ctx))
	if err != nil {
		return nil, fmt.Errorf("dom counters: %w", err)
	}
	return map[string]int64{
		"documents":        documents,
		"nodes":            nodes,
		"jsEventListeners": listeners,
	}, nil
}

func (h *Host) probeExec(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(h.browserCtx).Target)
}

// active is the subject most recently opened, which is the one page
// content driving zoom and resize lives in.
func (h *Host) active() (*tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.bySubject[h.lastOpened]
	if !ok {
		return nil, host.ErrNoSuchSubject
	}
	return t, nil
}

// tabContext attaches to the tab lazily. The context lives until the
// target is destroyed, since cancelling it would close the tab.
func (h *Host) tabContext(t *tab) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.ctx == nil {
		t.ctx, t.cancel = chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(t.target))
	}
	return t.ctx
}

var (
	_ host.Host        = (*Host)(nil)
	_ host.MemoryProbe = (*Host)(nil)
)
