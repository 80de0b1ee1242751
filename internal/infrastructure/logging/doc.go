// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON on stderr, so a fuzzing driver can scrape it
//   - Development: colored console output
//
// Components get child loggers through Named, e.g. "router", "harness",
// "quit". Capabilities that may be absent in a host (forced GC, cycle
// collection, memory pressure) are reported through Once so that the
// warning appears a single time per session.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Named("harness").Info("Using time limit", zap.Duration("timeout", d))
package logging
