package mysql

import "crawlfleet/pkg/store/mysql/model"

// Re-export types from model package

type (
	// Database models
	ActivationEvent = model.ActivationEvent
)
