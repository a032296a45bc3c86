package engine

import "errors"

// Domain errors surfaced by manager operations. The API layer maps these to
// HTTP status codes.
var (
	// ErrModelNotFound means a device references an unknown model.
	ErrModelNotFound = errors.New("unknown device model")

	// ErrDeviceNotFound means the device id is not in the catalogue.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrGroupNotFound means the group id has no members.
	ErrGroupNotFound = errors.New("group not found")

	// ErrDeviceExists means the device id is already taken.
	ErrDeviceExists = errors.New("device already exists")

	// ErrCapacity means the per-instance device limit is reached.
	ErrCapacity = errors.New("maximum device count reached")

	// ErrNotProxy means a proxy-only operation targeted a simulated device.
	ErrNotProxy = errors.New("device is not a proxy device")
)
