package mysql

import (
	"crawlfleet/pkg/autoscaler"
)

// ToActivationEventDomain converts MySQL ActivationEvent to the autoscaler event
func ToActivationEventDomain(e *ActivationEvent) *autoscaler.ActivationEvent {
	if e == nil {
		return nil
	}

	return &autoscaler.ActivationEvent{
		EventID:         e.EventID,
		NodeID:          e.NodeID,
		NodeName:        e.NodeName,
		Trigger:         autoscaler.Trigger(e.Trigger),
		QueueDepth:      e.QueueDepth,
		Threshold:       e.Threshold,
		Success:         e.Success,
		Address:         e.Address,
		AddressAttempts: e.AddressAttempts,
		Error:           e.Error,
		StartedAt:       e.StartedAt,
		FinishedAt:      e.FinishedAt,
	}
}

// FromActivationEventDomain converts the autoscaler event to MySQL ActivationEvent
func FromActivationEventDomain(e *autoscaler.ActivationEvent) *ActivationEvent {
	if e == nil {
		return nil
	}

	return &ActivationEvent{
		EventID:         e.EventID,
		NodeID:          e.NodeID,
		NodeName:        e.NodeName,
		Trigger:         string(e.Trigger),
		QueueDepth:      e.QueueDepth,
		Threshold:       e.Threshold,
		Success:         e.Success,
		Address:         e.Address,
		AddressAttempts: e.AddressAttempts,
		Error:           e.Error,
		StartedAt:       e.StartedAt.UTC(),
		FinishedAt:      e.FinishedAt.UTC(),
	}
}
