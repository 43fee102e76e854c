// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound rate limiting (pointer streams are chatty but
	// bounded; anything past this is a misbehaving client)
	RateLimitMessages = 120         // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Cap on entries returned by the history endpoint
	HistoryLimit = 200

	// Buffer for the bus subscription feeding WebSocket broadcasts
	BroadcastBuffer = 64
)
