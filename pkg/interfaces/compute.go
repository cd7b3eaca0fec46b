package interfaces

import (
	"context"
)

// ComputeLifecycle compute provider interface
// Drives a single compute instance identified by an opaque handle (e.g. an EC2 instance id).
type ComputeLifecycle interface {
	// Start asks the provider to start the instance and returns without waiting.
	// Non-recoverable provider errors wrap ErrActivationFailed.
	Start(ctx context.Context, instanceID string) error

	// AwaitRunning blocks until the instance is running.
	// Errors wrap ErrActivationTimeout.
	AwaitRunning(ctx context.Context, instanceID string) error

	// PublicAddress returns the instance's current public address.
	// An empty string means no address has been assigned yet, which is not an error.
	PublicAddress(ctx context.Context, instanceID string) (string, error)
}
