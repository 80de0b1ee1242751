package chrome

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/fuzzpriv/internal/host"
)

// Requires a local Chromium; set FUZZPRIV_CHROME=1 (and optionally
// CHROME_PATH) to run.
func TestBrowserLifecycle(t *testing.T) {
	if os.Getenv("FUZZPRIV_CHROME") == "" {
		t.Skip("FUZZPRIV_CHROME not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	h, err := New(ctx, Config{ExecPath: os.Getenv("CHROME_PATH"), Headless: true}, nil)
	require.NoError(t, err)

	events := make(chan host.Event, 16)
	h.Subscribe(func(ev host.Event) { events <- ev })

	sub, err := h.OpenSubject(ctx, "about:blank", host.KindTab)
	require.NoError(t, err)

	subjects, err := h.Subjects(ctx)
	require.NoError(t, err)
	assert.Contains(t, subjects, sub)

	require.NoError(t, h.Zoom(ctx, 1.5))
	counts, err := h.ObjectCounts(ctx)
	require.NoError(t, err)
	assert.Contains(t, counts, "documents")

	require.NoError(t, h.RemoveSubject(ctx, sub))
	assert.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Kind == host.SubjectRemoved && ev.Subject == sub {
					return true
				}
			default:
				return false
			}
		}
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, h.Terminate(ctx))
	<-h.Done()
}
