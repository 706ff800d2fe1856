// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Record-level errors are never fatal: stages count and
// skip the offending record and keep consuming the stream.
var (
	// Record anomalies
	ErrMalformedRecord      = errors.New("strix: malformed record")
	ErrConflictingDiscovery = errors.New("strix: conflicting discovery binding")
	ErrUnresolvableEdge     = errors.New("strix: unresolvable edge")

	// Frame skip reasons raised by the dissection adapter
	ErrServiceRequestFrame = errors.New("strix: service request frame")
	ErrRoutingFrame        = errors.New("strix: routing service internal frame")
	ErrNoDiscoveryData     = errors.New("strix: no discovery data for frame")

	// Capture-level conditions
	ErrEmptyCapture = errors.New("strix: no rtps frames to process")

	// External collaborator failures
	ErrTsharkNotFound = errors.New("strix: tshark not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("strix: invalid configuration")
)
