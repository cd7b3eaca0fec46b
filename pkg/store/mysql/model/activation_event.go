package model

import "time"

// ActivationEvent MySQL model for activation_events table
type ActivationEvent struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID         string    `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex:idx_event_id_unique" json:"event_id"`
	NodeID          string    `gorm:"column:node_id;type:varchar(64);not null;index:idx_node_started,priority:1" json:"node_id"`
	NodeName        string    `gorm:"column:node_name;type:varchar(255);not null;default:''" json:"node_name"`
	Trigger         string    `gorm:"column:trigger_type;type:varchar(20);not null" json:"trigger"`
	QueueDepth      int64     `gorm:"column:queue_depth;type:bigint;not null;default:0" json:"queue_depth"`
	Threshold       int64     `gorm:"column:threshold;type:bigint;not null;default:0" json:"threshold"`
	Success         bool      `gorm:"column:success;not null;index:idx_success" json:"success"`
	Address         string    `gorm:"column:address;type:varchar(64);not null;default:''" json:"address"`
	AddressAttempts int       `gorm:"column:address_attempts;type:int;not null;default:0" json:"address_attempts"`
	Error           string    `gorm:"column:error;type:text" json:"error"`
	StartedAt       time.Time `gorm:"column:started_at;type:datetime(3);not null;index:idx_started_at;index:idx_node_started,priority:2" json:"started_at"`
	FinishedAt      time.Time `gorm:"column:finished_at;type:datetime(3);not null" json:"finished_at"`
}

// TableName specifies the table name for ActivationEvent
func (ActivationEvent) TableName() string {
	return "activation_events"
}
