// Package persist stores capture records in the persistence backend over
// HTTP. Writes are best-effort: the capture pipeline never blocks on the
// backend, and failures surface as log lines and session-error events
// rather than aborted captures.
package persist

import "time"

// Client configuration defaults
const (
	DefaultRequestTimeout = 5 * time.Second

	// Record kinds
	KindLive  = "live"
	KindStill = "still"

	recordsPath = "/api/capture-records"
)
