//go:build !darwin && !linux && !windows

package stream

// QueryPermission reports the screen capture permission state on platforms
// without a known permission model.
func QueryPermission() (Permission, string) {
	return PermissionUnknown, "screen capture permission model unknown on this platform"
}
