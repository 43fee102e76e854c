package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/persist"
)

// Content is what a session is holding: a monitored live region or a
// one-shot still. Consumers switch on the concrete type, never probe
// fields.
type Content interface {
	isContent()
}

// LiveRegion is a region under periodic change monitoring.
type LiveRegion struct {
	Region geometry.Rect
}

// StillImage is a single grabbed frame.
type StillImage struct {
	Image      *image.RGBA
	Region     geometry.Rect
	CapturedAt time.Time
}

func (LiveRegion) isContent() {}
func (StillImage) isContent() {}

// KindOf maps content to its persistence record kind.
func KindOf(c Content) string {
	switch c.(type) {
	case LiveRegion:
		return persist.KindLive
	case StillImage:
		return persist.KindStill
	default:
		panic(fmt.Sprintf("unhandled content type %T", c))
	}
}

// RegionOf returns the region the content covers.
func RegionOf(c Content) geometry.Rect {
	switch v := c.(type) {
	case LiveRegion:
		return v.Region
	case StillImage:
		return v.Region
	default:
		panic(fmt.Sprintf("unhandled content type %T", c))
	}
}
