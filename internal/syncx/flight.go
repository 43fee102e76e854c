package syncx

import "sync/atomic"

// Flight is a single-flight guard for periodic work: while one unit of work
// is outstanding, further attempts are refused rather than queued.
type Flight struct {
	busy atomic.Bool
}

// TryAcquire claims the flight slot. It returns false if work is already
// outstanding; the caller must skip its tick in that case.
func (f *Flight) TryAcquire() bool {
	return f.busy.CompareAndSwap(false, true)
}

// Release frees the slot. Safe to call from a different goroutine than the
// one that acquired it.
func (f *Flight) Release() {
	f.busy.Store(false)
}

// InFlight reports whether work is currently outstanding.
func (f *Flight) InFlight() bool {
	return f.busy.Load()
}
