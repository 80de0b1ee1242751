// Package config provides 12-factor configuration for the fuzzpriv harness.
//
// Configuration is loaded from environment variables with defaults that
// match the behaviour fuzzing drivers expect (4s delayed quit, 5s default
// round time limit is fixed in the harness itself). CLI flags in
// cmd/fuzzpriv override the environment.
//
// Environment Variables:
//   - PORT, HOST
//   - HOST_DRIVER (cdp|sim), CHROME_PATH, CDP_URL, HEADLESS
//   - HARNESS_SUBJECT (tab|window)
//   - QUIT_SOON_DELAY, LEAK_SETTLE_DELAY, LEAK_PRESSURE_ROUNDS, LEAK_BASELINE_FILE
//   - CACHE_WAIT, CACHE_COMPRESS_THRESHOLD
//   - CHANNEL_RPS, CHANNEL_BURST
//   - FETCH_TIMEOUT, FETCH_RETRIES
//   - LOG_LEVEL, LOG_DEV
package config
