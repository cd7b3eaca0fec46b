package asynq

import (
	"context"
	"fmt"

	"crawlfleet/pkg/config"
	"crawlfleet/pkg/interfaces"

	"github.com/hibiken/asynq"
)

// queueInspector is the part of *asynq.Inspector the sampler needs
type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// Sampler reads the pending task count of an asynq queue
type Sampler struct {
	inspector queueInspector
	queue     string
}

var _ interfaces.QueueDepthSampler = (*Sampler)(nil)

// NewSampler creates an asynq queue sampler against the configured Redis
func NewSampler(cfg config.RedisConfig, queue string) *Sampler {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	return &Sampler{
		inspector: asynq.NewInspector(redisOpt),
		queue:     queue,
	}
}

// Sample returns the number of pending tasks in the queue
func (s *Sampler) Sample(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", interfaces.ErrMetricUnavailable, err)
	}

	info, err := s.inspector.GetQueueInfo(s.queue)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w: %w", s.queue, interfaces.ErrMetricUnavailable, err)
	}
	return int64(info.Pending), nil
}

// Close closes the inspector's Redis connection
func (s *Sampler) Close() error {
	return s.inspector.Close()
}
