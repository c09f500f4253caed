package location

import (
	"context"
	"strings"
)

// PermissionStatus is the answer to a location permission request.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// Granted reports whether the permission allows location access.
func (p PermissionStatus) Granted() bool {
	return p == PermissionGranted
}

// Permissions requests location access from the platform.
type Permissions interface {
	RequestForeground(ctx context.Context) (PermissionStatus, error)
	RequestBackground(ctx context.Context) (PermissionStatus, error)
}

// ParsePermission maps a configuration value to a PermissionStatus. Unknown
// values are treated as undetermined, which is not a grant.
func ParsePermission(value string) PermissionStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "true", "yes", "1":
		return PermissionGranted
	case "denied", "false", "no", "0":
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}

// StaticPermissions answers permission requests from fixed values.
type StaticPermissions struct {
	Foreground PermissionStatus
	Background PermissionStatus
}

var _ Permissions = StaticPermissions{}

// RequestForeground returns the configured foreground answer.
func (p StaticPermissions) RequestForeground(context.Context) (PermissionStatus, error) {
	return p.Foreground, nil
}

// RequestBackground returns the configured background answer.
func (p StaticPermissions) RequestBackground(context.Context) (PermissionStatus, error) {
	return p.Background, nil
}
