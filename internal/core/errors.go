// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, matched with errors.Is after wrapping.
var (
	// Frame decoding errors
	ErrMalformedFrame = errors.New("lswitch: malformed frame")

	// Control channel errors
	ErrChannel       = errors.New("lswitch: control channel failure")
	ErrChannelClosed = errors.New("lswitch: control channel closed")

	// Snapshot persistence errors
	ErrPersistence = errors.New("lswitch: snapshot persistence failed")

	// Configuration errors
	ErrTopologyInvalid = errors.New("lswitch: invalid topology")
	ErrConfigInvalid   = errors.New("lswitch: invalid configuration")
)
