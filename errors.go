package main

// Acquisition error kinds. Backends wrap these with fmt.Errorf so callers can
// match with errors.Is while still seeing the failing step.

import "errors"

var (
	// ErrIOUnavailable: the file or device node could not be opened.
	ErrIOUnavailable = errors.New("data source unavailable")
	// ErrShortRead: a read returned neither a full sample nor zero bytes.
	ErrShortRead = errors.New("short read")
	// ErrAllocation: the frame buffer could not grow.
	ErrAllocation = errors.New("frame buffer allocation failed")
	// ErrNegotiation: a capture-device init step failed.
	ErrNegotiation = errors.New("device negotiation failed")
	// ErrQueue: per-tick buffer queue or dequeue failed.
	ErrQueue = errors.New("buffer queue failed")
)
