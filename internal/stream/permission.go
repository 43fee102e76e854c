package stream

// Permission is the platform pre-check result for screen capture.
type Permission int

const (
	// PermissionGranted means capture may proceed.
	PermissionGranted Permission = iota
	// PermissionDenied means the user or OS refused capture.
	PermissionDenied
	// PermissionUnknown means the platform cannot pre-check; proceed and
	// let acquisition fail if it was in fact denied.
	PermissionUnknown
)
