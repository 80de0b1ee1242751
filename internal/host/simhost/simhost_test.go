package simhost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/fuzzpriv/internal/host"
)

func TestOpenAndRemoveEmitEvents(t *testing.T) {
	h := New(nil)
	var events []host.Event
	h.Subscribe(func(ev host.Event) { events = append(events, ev) })

	ctx := context.Background()
	sub, err := h.OpenSubject(ctx, "http://localhost:8000/first_test", host.KindTab)
	require.NoError(t, err)

	subjects, err := h.Subjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, sub, subjects[0])

	require.NoError(t, h.RemoveSubject(ctx, sub))
	assert.ErrorIs(t, h.RemoveSubject(ctx, sub), host.ErrNoSuchSubject)

	require.Len(t, events, 2)
	assert.Equal(t, host.Event{Kind: host.SubjectCreated, Subject: sub}, events[0])
	assert.Equal(t, host.Event{Kind: host.SubjectRemoved, Subject: sub}, events[1])
}

func TestSelfClose(t *testing.T) {
	h := New(nil)
	removed := make(chan host.Event, 1)
	h.Subscribe(func(ev host.Event) {
		if ev.Kind == host.SubjectRemoved {
			removed <- ev
		}
	})

	sub, err := h.OpenSubject(context.Background(), "http://localhost/x", host.KindWindow)
	require.NoError(t, err)

	assert.True(t, h.SelfClose(sub))
	assert.False(t, h.SelfClose(sub))
	assert.Equal(t, sub, (<-removed).Subject)
	assert.Empty(t, h.CallsOf(OpRemove), "self close is not a host removal")
}

func TestFailureInjection(t *testing.T) {
	h := New(nil)
	boom := errors.New("boom")
	h.Fail(OpOpen, boom)

	_, err := h.OpenSubject(context.Background(), "http://localhost/", host.KindTab)
	assert.ErrorIs(t, err, boom)

	h.Fail(OpOpen, nil)
	_, err = h.OpenSubject(context.Background(), "http://localhost/", host.KindTab)
	assert.NoError(t, err)
	assert.Len(t, h.CallsOf(OpOpen), 2)
}

func TestOpenDelayHonoursContext(t *testing.T) {
	h := New(nil)
	h.SetOpenDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.OpenSubject(ctx, "http://localhost/", host.KindTab)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTerminate(t *testing.T) {
	h := New(nil)
	ctx := context.Background()
	require.NoError(t, h.Terminate(ctx))

	select {
	case <-h.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.True(t, h.Terminated())
	assert.ErrorIs(t, h.Zoom(ctx, 2), ErrTerminated)
	assert.ErrorIs(t, h.Terminate(ctx), ErrTerminated)
}

func TestObjectCountsAreCopies(t *testing.T) {
	h := New(nil)
	h.SetObjectCounts(map[string]int64{"nsDocument": 4})

	counts, err := h.ObjectCounts(context.Background())
	require.NoError(t, err)
	counts["nsDocument"] = 99

	again, err := h.ObjectCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), again["nsDocument"])
}
