package syncx

import "sync/atomic"

// Generation is a monotonically increasing session token. Asynchronous
// callbacks capture the value current when they start and compare it before
// applying effects; a bump invalidates everything in flight. Unlike a
// boolean "stopped" flag this survives rapid stop/start cycles.
type Generation struct {
	n atomic.Uint64
}

// Next advances the generation and returns the new value.
func (g *Generation) Next() uint64 {
	return g.n.Add(1)
}

// Current returns the live generation value.
func (g *Generation) Current() uint64 {
	return g.n.Load()
}

// Valid reports whether token is still the live generation.
func (g *Generation) Valid(token uint64) bool {
	return g.n.Load() == token
}
