package interfaces

import "errors"

// Activation and sampling failures. None of them is fatal to the autoscaler:
// a failed sample skips one tick, a failed activation leaves the node inactive.
var (
	ErrMetricUnavailable           = errors.New("queue depth unavailable")
	ErrActivationFailed            = errors.New("activation failed")
	ErrActivationTimeout           = errors.New("activation timed out waiting for running state")
	ErrAddressAcquisitionExhausted = errors.New("public address acquisition exhausted")
	ErrLaunchFailed                = errors.New("remote launch failed")
)
