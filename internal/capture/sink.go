package capture

import (
	"github.com/meshflow/capture/internal/bus"
	"github.com/meshflow/capture/internal/detector"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/stream"
)

// Sink receives the pipeline's outward notifications. The pipeline never
// blocks on a sink.
type Sink interface {
	RegionChosen(region geometry.Rect)
	FrameCaptured(entry detector.Entry)
	StreamEnded(reason stream.EndReason)
}

// BusSink publishes sink notifications as bus events.
type BusSink struct {
	bus *bus.Bus
}

// NewBusSink creates a sink publishing to b.
func NewBusSink(b *bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

func (s *BusSink) RegionChosen(region geometry.Rect) {
	s.bus.Publish(bus.EventRegionSelected, region)
}

func (s *BusSink) FrameCaptured(entry detector.Entry) {
	s.bus.Publish(bus.EventFrameReady, entry)
}

func (s *BusSink) StreamEnded(reason stream.EndReason) {
	s.bus.Publish(bus.EventStreamEnded, string(reason))
}

// MultiSink fans notifications out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) RegionChosen(region geometry.Rect) {
	for _, s := range m {
		s.RegionChosen(region)
	}
}

func (m MultiSink) FrameCaptured(entry detector.Entry) {
	for _, s := range m {
		s.FrameCaptured(entry)
	}
}

func (m MultiSink) StreamEnded(reason stream.EndReason) {
	for _, s := range m {
		s.StreamEnded(reason)
	}
}
