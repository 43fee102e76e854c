//go:build windows

package stream

// QueryPermission reports the screen capture permission state. Windows does
// not gate desktop duplication behind a user permission.
func QueryPermission() (Permission, string) {
	return PermissionGranted, ""
}
