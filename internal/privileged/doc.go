// Package privileged is the privileged side of the message channel: it
// routes commands arriving from page content to browser actions, keeps the
// cross-boundary object cache and owns the quit sequence.
//
// Router and Cache are owned by the privileged event loop. Host actions run
// off-loop; their failures are logged and never reported back to content.
package privileged
