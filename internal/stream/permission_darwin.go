//go:build darwin

package stream

// QueryPermission reports the screen recording permission state. macOS has
// no reliable ahead-of-time check without linking ScreenCaptureKit, so the
// answer is unknown: the first capture attempt is the real check.
func QueryPermission() (Permission, string) {
	return PermissionUnknown, "screen recording permission cannot be pre-checked; capture will prompt"
}
