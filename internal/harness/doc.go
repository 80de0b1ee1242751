// Package harness rotates test cases through the browser on a timer.
//
// Each round opens a subject at location+path (/first_test for the first
// round, /next_test afterwards) and ends when either the subject closes
// itself or the round's time limit expires, whichever happens first. The
// next round starts immediately. A generation counter tags every timer and
// open completion so that anything belonging to a finished round is
// ignored.
//
// A Harness is owned by the privileged event loop. Start, Stop and Status
// must be called from that loop.
package harness
