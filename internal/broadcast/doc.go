// Package broadcast fans server events out to live client streams.
//
// A Registry maps a recipient key to the streams currently open for one event
// category. Each Stream owns its transport (SSE or WebSocket) and is the only
// goroutine that writes to it: pushes enqueue into a small per-stream buffer and
// never wait on a slow client. A stream whose buffer is full, whose write fails,
// or whose client goes away closes itself and leaves the registry exactly once.
package broadcast
