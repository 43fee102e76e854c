// Package selector implements the interactive capture-region editor
package selector

// Selector tunables
const (
	// Smallest committed region edge, in native-video pixels.
	MinRegionSize = 50.0

	// Pointer distance within which a resize handle wins the hit test.
	DefaultHandleRadius = 12.0

	// Smallest new-region draw span that commits. Expressed in screen
	// pixels; sessions convert it into video space before configuring a
	// selector.
	DrawCommitSpanScreen = 10.0
)
