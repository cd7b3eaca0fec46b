package interfaces

import (
	"context"
)

// QueueDepthSampler backlog queue interface
// Supports multiple implementations like SQS, Redis lists and asynq queues.
type QueueDepthSampler interface {
	// Sample returns the approximate number of pending items.
	// Values are approximate and may go up or down between calls.
	// Errors wrap ErrMetricUnavailable; implementations do not retry.
	Sample(ctx context.Context) (int64, error)
}
