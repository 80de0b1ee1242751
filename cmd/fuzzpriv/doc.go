// Command fuzzpriv puppets a browser for a fuzzing driver.
//
// It starts (or attaches to) a browser, serves the command channel that
// page content uses to reach privileged operations, rotates harness test
// cases and exits when the browser terminates.
//
// Usage:
//
//	# Drive a local Chromium, start the harness against a grizzly server
//	./fuzzpriv -start 'http://127.0.0.1:8000/#5000'
//
//	# Run a fuzzer from disk in the in-process page against a simulated browser
//	./fuzzpriv -host sim -start 'file:///tmp/case.html#fuzz=1,2,fuzzer.js'
//
//	# Development mode (colored logs, debug level)
//	./fuzzpriv -dev
//
// Configuration comes from environment variables; flags override them.
//
// Signals:
//   - SIGINT, SIGTERM: run the quit sequence and exit
package main
