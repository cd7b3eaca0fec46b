package mysql

import (
	"context"
	"fmt"
	"time"

	"crawlfleet/pkg/autoscaler"
)

const (
	defaultEventListLimit = 100
	maxEventListLimit     = 1000
)

// ActivationEventRepository handles activation event persistence in MySQL
type ActivationEventRepository struct {
	ds *Datastore
}

var _ autoscaler.ActivationObserver = (*ActivationEventRepository)(nil)

// NewActivationEventRepository creates a new activation event repository
func NewActivationEventRepository(ds *Datastore) *ActivationEventRepository {
	return &ActivationEventRepository{ds: ds}
}

// Create creates a new activation event
func (r *ActivationEventRepository) Create(ctx context.Context, event *ActivationEvent) error {
	if err := r.ds.DB(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create activation event %s: %w", event.EventID, err)
	}
	return nil
}

// OnActivation records an activation outcome reported by the controller
func (r *ActivationEventRepository) OnActivation(ctx context.Context, event *autoscaler.ActivationEvent) error {
	return r.Create(ctx, FromActivationEventDomain(event))
}

// List retrieves the most recent events, optionally for one node
func (r *ActivationEventRepository) List(ctx context.Context, nodeID string, limit int) ([]*autoscaler.ActivationEvent, error) {
	if limit <= 0 {
		limit = defaultEventListLimit
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}

	query := r.ds.DB(ctx).Model(&ActivationEvent{}).Order("started_at DESC").Limit(limit)
	if nodeID != "" {
		query = query.Where("node_id = ?", nodeID)
	}

	var rows []*ActivationEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list activation events: %w", err)
	}

	events := make([]*autoscaler.ActivationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, ToActivationEventDomain(row))
	}
	return events, nil
}

// DeleteOldEvents deletes events that started before olderThan
func (r *ActivationEventRepository) DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("started_at < ?", olderThan).Delete(&ActivationEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old activation events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
