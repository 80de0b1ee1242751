// Package content is the untrusted side of the channel: the capability
// surface page scripts call (fuzzPriv), the pending-request ledger behind
// fuzzPriv.get, navigation triggers that start the harness or inject a
// fuzzer, and a goja runtime that plays the page.
//
// Everything here runs on the content event loop.
package content
