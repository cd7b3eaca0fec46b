package redis

import (
	"context"
	"fmt"

	"crawlfleet/pkg/interfaces"

	"github.com/go-redis/redis/v8"
)

// Sampler reads the length of a Redis list used as the crawl frontier
type Sampler struct {
	client *redis.Client
	key    string
}

var _ interfaces.QueueDepthSampler = (*Sampler)(nil)

// NewSampler creates a list-length sampler for key
func NewSampler(client *redis.Client, key string) *Sampler {
	return &Sampler{client: client, key: key}
}

// Sample returns LLEN of the list; a missing key counts as an empty queue
func (s *Sampler) Sample(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w: %w", s.key, interfaces.ErrMetricUnavailable, err)
	}
	return n, nil
}
