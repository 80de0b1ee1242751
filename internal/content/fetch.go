package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/resilience"
)

// ErrNotText is returned for bodies that do not sniff as text.
var ErrNotText = errors.New("not a text document")

// FetchConfig tunes a Fetcher.
type FetchConfig struct {
	Timeout time.Duration
	Retries int
	Logger  *logging.Logger
}

// Fetcher loads pages and fuzzer scripts. file: URLs are read from disk;
// http(s) URLs go through resty behind a breaker per origin, so a dead
// fuzzer server fails fast instead of stalling every page load.
type Fetcher struct {
	http     *resty.Client
	breakers *resilience.Group
	logger   *logging.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	logger := cfg.Logger.Named("fetch")

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", "fuzzpriv/1.0")

	breakers := resilience.NewGroup(resilience.Settings{
		Cooldown: 10 * time.Second,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(origin string, from, to resilience.State) {
			logger.Warn("fetch breaker state changed",
				zap.String("origin", origin),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Fetcher{http: client, breakers: breakers, logger: logger}
}

// Fetch returns the body at u decoded to UTF-8. Binary bodies are
// rejected with ErrNotText.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) (string, error) {
	data, err := f.fetch(ctx, u)
	if err != nil {
		return "", err
	}
	if !textual(data) {
		return "", fmt.Errorf("fetch %s: %w (%s)", u.Redacted(), ErrNotText, mimetype.Detect(data))
	}
	return f.decode(u, data), nil
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	switch u.Scheme {
	case "file":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u.Path, err)
		}
		return data, nil

	case "http", "https":
		var body []byte
		err := f.breakers.Get(u.Host).Do(func() error {
			resp, err := f.http.R().SetContext(ctx).Get(u.String())
			if err != nil {
				return err
			}
			if resp.IsError() {
				return fmt.Errorf("HTTP %d", resp.StatusCode())
			}
			body = resp.Body()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
		}
		f.logger.Debug("fetched", zap.String("url", u.Redacted()), zap.Int("bytes", len(body)))
		return body, nil

	default:
		return nil, fmt.Errorf("fetch %s: unsupported scheme %q", u.Redacted(), u.Scheme)
	}
}

// decode converts legacy-encoded pages to UTF-8. Undetectable or
// unsupported charsets pass through unchanged.
func (f *Fetcher) decode(u *url.URL, data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || best == nil {
		return string(data)
	}
	name := strings.ToLower(best.Charset)
	r, err := charset.NewReaderLabel(name, bytes.NewReader(data))
	if err != nil {
		f.logger.Debug("unsupported charset", zap.String("url", u.Redacted()), zap.String("charset", name))
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	f.logger.Debug("decoded", zap.String("url", u.Redacted()), zap.String("charset", name))
	return string(out)
}

// textual reports whether data sniffs as text/plain or one of its
// descendants (html, javascript, xml, ...).
func textual(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
