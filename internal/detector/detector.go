package detector

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	xdraw "golang.org/x/image/draw"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/syncx"
	"github.com/meshflow/capture/internal/trace"
)

// FrameSource yields the current video frame.
type FrameSource interface {
	Frame() (*image.RGBA, error)
}

// Entry is one captured frame. Immutable once created; entries join the
// session's append-only history in capture order.
type Entry struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// Detector periodically samples the capture region from a live stream and
// emits an Entry only when the frame differs enough from the last emitted
// one. The first successful sample always emits.
type Detector struct {
	frames   FrameSource
	region   *syncx.RWGuard[geometry.Rect]
	emit     func(Entry)
	interval time.Duration

	flight syncx.Flight
	gen    syncx.Generation

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
	cancel   context.CancelFunc
}

// New creates a detector over the given frame source and region. emit is
// called from the sampling goroutine.
func New(frames FrameSource, region geometry.Rect, emit func(Entry)) *Detector {
	return NewWithInterval(frames, region, emit, SampleInterval)
}

// NewWithInterval creates a detector with a custom sampling period.
func NewWithInterval(frames FrameSource, region geometry.Rect, emit func(Entry), interval time.Duration) *Detector {
	return &Detector{
		frames:   frames,
		region:   syncx.NewGuard(region),
		emit:     emit,
		interval: interval,
	}
}

// SetRegion redefines the sampled region without restarting the timer.
func (d *Detector) SetRegion(r geometry.Rect) {
	d.region.Set(r)
}

// Region returns the currently sampled region.
func (d *Detector) Region() geometry.Rect {
	return d.region.Get()
}

// Activate starts the sampling timer, stopping any run already in
// progress. Ticks that land while a sample is still in flight are dropped,
// not queued.
func (d *Detector) Activate(ctx context.Context) {
	token := d.gen.Next()
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.mu.Unlock()

	go d.run(ctx, token)
}

// Deactivate stops the timer, clears the stored hash, and invalidates any
// in-flight sample so it cannot emit after this returns.
func (d *Detector) Deactivate() {
	d.gen.Next()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.lastHash = nil
	d.mu.Unlock()
}

func (d *Detector) run(ctx context.Context, token uint64) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.flight.TryAcquire() {
				continue
			}
			go d.sample(ctx, token)
		}
	}
}

// sample extracts the region, hashes it, and emits on sufficient change.
// Hash failure carries no information: the tick is skipped and stored state
// is untouched.
func (d *Detector) sample(ctx context.Context, token uint64) {
	defer d.flight.Release()

	if !d.gen.Valid(token) {
		return
	}

	log := trace.Logger(ctx)
	entry, hash, err := d.capture()
	if err != nil {
		log.Debug("sample skipped", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.gen.Valid(token) {
		// The session ended while this sample was in flight.
		return
	}

	if d.lastHash != nil {
		sim, err := Similarity(d.lastHash, hash)
		if err != nil {
			log.Debug("similarity check failed", "error", err)
			return
		}
		if sim >= SimilarityThreshold {
			return
		}
	}

	d.lastHash = hash
	d.emit(entry)
}

// capture crops the region out of the current frame and hashes it.
func (d *Detector) capture() (Entry, *goimagehash.ImageHash, error) {
	frame, err := d.frames.Frame()
	if err != nil {
		return Entry{}, nil, errors.Wrap(err, errors.CodeHashFailed, "frame unavailable")
	}

	crop := d.region.Get().ToImageRect().Intersect(frame.Bounds())
	if crop.Empty() {
		return Entry{}, nil, errors.New(errors.CodeHashFailed, "region outside frame bounds")
	}

	// Copy the crop out so the entry stays valid after the frame buffer is
	// reused.
	still := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	xdraw.Copy(still, image.Point{}, frame, crop, xdraw.Src, nil)

	hash, err := goimagehash.AverageHash(still)
	if err != nil {
		return Entry{}, nil, errors.Wrap(err, errors.CodeHashFailed, "average hash failed")
	}

	return Entry{Image: still, Timestamp: time.Now()}, hash, nil
}

// Similarity is the fraction of matching bits between two 64-bit hashes,
// in [0, 1].
func Similarity(a, b *goimagehash.ImageHash) (float64, error) {
	dist, err := a.Distance(b)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeHashFailed, "hash distance failed")
	}
	return 1 - float64(dist)/HashBits, nil
}
