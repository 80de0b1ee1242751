package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/content"
	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/harness"
	"github.com/GriffinCanCode/fuzzpriv/internal/host"
	"github.com/GriffinCanCode/fuzzpriv/internal/host/chrome"
	"github.com/GriffinCanCode/fuzzpriv/internal/host/simhost"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/config"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/server"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/fuzzpriv/internal/privileged"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

const (
	quitTimeout = 30 * time.Second
	stopTimeout = time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fuzzpriv:", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "Control server port (overrides PORT)")
	driver := flag.String("host", "", "Browser host, cdp or sim (overrides HOST_DRIVER)")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	start := flag.String("start", "", "URL for the in-process page to navigate to at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Host.Driver = *driver
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	browser, err := openHost(ctx, cfg, logger)
	if err != nil {
		return err
	}
	kind, err := host.ParseKind(cfg.Harness.SubjectKind)
	if err != nil {
		return err
	}
	baseline := privileged.BaselineFor(cfg.Host.Driver)
	if cfg.Quit.BaselineFile != "" {
		if baseline, err = privileged.LoadBaseline(cfg.Quit.BaselineFile); err != nil {
			return err
		}
	}

	metrics := monitoring.NewMetrics()

	// privileged side
	privLoop := eventloop.New()
	go privLoop.Run(ctx)

	h := harness.New(ctx, privLoop, browser, harness.Options{
		Kind:     kind,
		Recorder: metrics,
		Logger:   logger,
	})
	quit := privileged.NewQuitSequence(privileged.QuitConfig{
		Host:           browser,
		Scheduler:      privLoop,
		SoonDelay:      cfg.Quit.SoonDelay,
		SettleDelay:    cfg.Quit.LeakSettleDelay,
		PressureRounds: cfg.Quit.PressureRounds,
		Baseline:       baseline,
		Metrics:        metrics,
		Logger:         logger,
	})
	cache, err := privileged.NewCache(privLoop, privileged.CacheConfig{
		Wait:              cfg.Cache.Wait,
		CompressThreshold: cfg.Cache.CompressThreshold,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer cache.Close()
	router := privileged.NewRouter(ctx, privileged.RouterConfig{
		Host:    browser,
		Harness: h,
		Quit:    quit,
		Cache:   cache,
		Metrics: metrics,
		Logger:  logger,
	})

	// content side: an in-process page wired to the router through a pipe
	contentLoop := eventloop.New()
	go contentLoop.Run(ctx)

	pagePort, privPort := transport.Pipe(logger)
	router.Bind(privPort, privLoop)
	page, err := content.NewPage(pagePort, contentLoop, content.PageConfig{
		Fetcher: content.NewFetcher(content.FetchConfig{
			Timeout: cfg.Fetch.Timeout,
			Retries: cfg.Fetch.Retries,
			Logger:  logger,
		}),
		OnOpen: func(url string) {
			go func() {
				if _, err := browser.OpenSubject(ctx, url, host.KindTab); err != nil {
					logger.Warn("open from page failed", zap.String("url", url), zap.Error(err))
				}
			}()
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer page.Close()

	tracer := tracing.New(logger)
	defer tracer.Close()

	srv := server.NewServer(cfg, server.Deps{
		Loop:    privLoop,
		Router:  router,
		Harness: h,
		Quit:    quit,
		Metrics: metrics,
		Tracer:  tracer,
		Logger:  logger,
	})
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	if *start != "" {
		go func() {
			if err := page.Navigate(ctx, *start); err != nil {
				logger.Error("start navigation failed", zap.String("url", *start), zap.Error(err))
			}
		}()
	}

	logger.Info("fuzzpriv ready",
		zap.String("driver", cfg.Host.Driver),
		zap.String("addr", cfg.Server.Host+":"+cfg.Server.Port),
	)

	select {
	case <-sigCtx.Done():
		logger.Info("Shutting down gracefully...")
		stopHarness(ctx, privLoop, h, logger)
		quitCtx, quitCancel := context.WithTimeout(context.Background(), quitTimeout)
		quit.RequestQuit(quitCtx, "signal")
		quitCancel()
	case <-browser.Done():
		logger.Info("browser terminated")
		stopHarness(ctx, privLoop, h, logger)
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}

	cancel()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// stopHarness stops test rotation on its loop so that no new round opens
// while the browser goes down.
func stopHarness(ctx context.Context, loop *eventloop.Loop, h *harness.Harness, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := loop.Do(ctx, h.Stop); err != nil {
		logger.Warn("harness stop failed", zap.Error(err))
	}
}

func openHost(ctx context.Context, cfg *config.Config, logger *logging.Logger) (host.Host, error) {
	switch cfg.Host.Driver {
	case "sim":
		return simhost.New(logger), nil
	default:
		h, err := chrome.New(ctx, chrome.Config{
			ExecPath:  cfg.Host.ChromePath,
			RemoteURL: cfg.Host.RemoteURL,
			Headless:  cfg.Host.Headless,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return h, nil
	}
}
