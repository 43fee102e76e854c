// Package detector samples the capture region and emits frames on change
package detector

import "time"

// Change detection constants. Interval and threshold are fixed pending
// product clarification; they are deliberately not configuration keys.
const (
	// How often the region is sampled.
	SampleInterval = 2000 * time.Millisecond

	// Frames at or above this similarity are considered unchanged.
	SimilarityThreshold = 0.95

	// Average hash width: 8x8 luminance grid, one bit per cell.
	HashBits = 64
)
