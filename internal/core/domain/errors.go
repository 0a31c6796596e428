package domain

import (
	"errors"

	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"
)

// Check with errors.Is:
//
//	if errors.Is(err, domain.ErrDuplicateDevice) {
//	    // skip
//	}
var (
	// ErrConnection is returned when a device is unreachable or answered garbage.
	ErrConnection = cozylife.ErrConnection

	// ErrTimeout is returned when an operation exceeded its bound.
	ErrTimeout = cozylife.ErrTimeout

	// ErrMalformedInput is returned for import payloads that are not a non-empty array of descriptors.
	ErrMalformedInput = errors.New("cozylife: malformed input")

	// ErrDuplicateDevice is returned when the uniqueness claim on an IP is already held.
	ErrDuplicateDevice = errors.New("cozylife: device already configured")

	// ErrRecordNotFound is returned when no record exists for an IP.
	ErrRecordNotFound = errors.New("cozylife: record not found")

	// ErrUnsupportedDeviceType is returned for device types other than switch.
	ErrUnsupportedDeviceType = errors.New("cozylife: unsupported device type")
)
