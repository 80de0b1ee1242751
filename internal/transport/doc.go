// Package transport carries protocol messages between the untrusted page
// context and the privileged context.
//
// A Port is a one-way-at-a-time duplex channel: Send is fire-and-forget
// and inbound messages are delivered to the registered handler in order,
// from a single goroutine per port. Two implementations exist:
//
//   - Pipe: a pair of in-process ports connected by unbounded FIFOs.
//   - WebSocketPort: a gorilla/websocket connection carrying the JSON wire
//     form, with per-port inbound rate limiting.
//
// Delivery failures never reach the sender. They are logged and dropped.
package transport
