package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/harness"
	"github.com/GriffinCanCode/fuzzpriv/internal/host/simhost"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
)

func TestStopHarnessHaltsRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := eventloop.New()
	go loop.Run(ctx)

	browser := simhost.New(nil)
	h := harness.New(ctx, loop, browser, harness.Options{})
	require.NoError(t, loop.Do(ctx, func() { h.Start(30, "http://localhost") }))
	require.Eventually(t, func() bool {
		return len(browser.CallsOf(simhost.OpOpen)) == 1
	}, time.Second, 5*time.Millisecond)

	stopHarness(ctx, loop, h, logging.NewNop())
	time.Sleep(10 * time.Millisecond) // an open already in flight may still land
	opened := len(browser.CallsOf(simhost.OpOpen))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, opened, len(browser.CallsOf(simhost.OpOpen)), "no round opens after stop")

	require.NoError(t, loop.Do(ctx, func() { h.Start(30, "http://localhost") }))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, opened, len(browser.CallsOf(simhost.OpOpen)), "a stopped harness never restarts")
}

func TestStopHarnessOnStoppedLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New()
	go loop.Run(ctx)
	h := harness.New(ctx, loop, simhost.New(nil), harness.Options{})
	cancel()
	<-loop.Done()

	assert.NotPanics(t, func() { stopHarness(context.Background(), loop, h, logging.NewNop()) })
}
