//go:build linux

package stream

import "os"

// QueryPermission reports the screen capture permission state. X11 grants
// capture to any client; Wayland gates it behind the desktop portal, which
// cannot be queried without opening a portal session.
func QueryPermission() (Permission, string) {
	if os.Getenv("WAYLAND_DISPLAY") != "" && os.Getenv("DISPLAY") == "" {
		return PermissionUnknown, "wayland capture goes through the desktop portal; capture will prompt"
	}
	if os.Getenv("DISPLAY") == "" {
		return PermissionDenied, "no display server available"
	}
	return PermissionGranted, ""
}
