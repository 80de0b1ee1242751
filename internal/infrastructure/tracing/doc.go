/*
Package tracing gives control-server requests a trace and span id.

Spans are logged through zap by a collector goroutine once they finish, so a
slow quit or leak check can be followed across the log with its trace_id.

	tracer := tracing.New(logger)
	defer tracer.Close()
	router.Use(tracing.Middleware(tracer))

Handlers tag the active span with tracing.FromContext(ctx).SetTag. The ids
travel in the X-Trace-ID and X-Span-ID headers.
*/
package tracing
