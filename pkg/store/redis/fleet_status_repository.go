package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crawlfleet/pkg/autoscaler"

	"github.com/go-redis/redis/v8"
)

const (
	fleetStatusKey       = "crawlfleet:autoscaler:status"    // latest session snapshot
	fleetActivatedSetKey = "crawlfleet:autoscaler:activated" // ids activated this session
	fleetStatusTTL       = 24 * time.Hour
)

// ErrStatusNotFound no snapshot has been published yet (or it expired)
var ErrStatusNotFound = errors.New("autoscaler status not found")

// FleetStatusRepository shares the controller snapshot through Redis so every
// replica can answer status queries, not just the one holding the session.
type FleetStatusRepository struct {
	redis *redis.Client
}

var _ autoscaler.StatusPublisher = (*FleetStatusRepository)(nil)

// NewFleetStatusRepository creates the status repository
func NewFleetStatusRepository(redisClient *RedisClient) *FleetStatusRepository {
	return &FleetStatusRepository{redis: redisClient.GetClient()}
}

// PublishStatus stores the snapshot and the activated node set
func (r *FleetStatusRepository) PublishStatus(ctx context.Context, status *autoscaler.SessionStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal autoscaler status: %w", err)
	}

	activated := make([]interface{}, 0, len(status.Nodes))
	for _, n := range status.Nodes {
		if n.Activated {
			activated = append(activated, n.ID)
		}
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, fleetStatusKey, data, fleetStatusTTL)
	pipe.Del(ctx, fleetActivatedSetKey)
	if len(activated) > 0 {
		pipe.SAdd(ctx, fleetActivatedSetKey, activated...)
		pipe.Expire(ctx, fleetActivatedSetKey, fleetStatusTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save autoscaler status: %w", err)
	}
	return nil
}

// GetStatus retrieves the latest published snapshot
func (r *FleetStatusRepository) GetStatus(ctx context.Context) (*autoscaler.SessionStatus, error) {
	data, err := r.redis.Get(ctx, fleetStatusKey).Bytes()
	if err == redis.Nil {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get autoscaler status: %w", err)
	}

	var status autoscaler.SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal autoscaler status: %w", err)
	}
	return &status, nil
}

// ActivatedNodes retrieves the ids of nodes activated in the latest session
func (r *FleetStatusRepository) ActivatedNodes(ctx context.Context) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, fleetActivatedSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get activated nodes: %w", err)
	}
	return ids, nil
}
