// Package protocol defines the messages exchanged between an untrusted
// page context and the privileged browser context.
//
// On the wire every message is a flat JSON object whose "cmd" member names
// the command and whose remaining members are its parameters:
//
//	{"cmd": "resizeTo", "width": 800, "height": 600}
//	{"cmd": "cacheGet", "key": "corpus", "token": 3}
//
// The only message that travels back is the cacheGet response, which
// echoes the token and carries "value" when the lookup succeeded. The
// absence of "value" (not a null value) is what signals failure.
package protocol
