// Package domain contains persistence models for external inference jobs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PredictionRecord tracks one call to an external generative model from
// creation through webhook or poll reconciliation.
type PredictionRecord struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID      `json:"user_id" gorm:"not null;index"`
	ToolID     string            `json:"tool_id" gorm:"type:text;not null"`
	BatchID    string            `json:"batch_id" gorm:"type:text;not null;index"`
	Status     Status            `json:"status" gorm:"type:text;not null;index"`
	Provider   string            `json:"provider" gorm:"type:text;not null"`
	ExternalID string            `json:"external_id" gorm:"type:text;index"`
	InputData  datatypes.JSONMap `json:"input_data" gorm:"type:jsonb"`
	OutputData datatypes.JSONMap `json:"output_data" gorm:"type:jsonb"`
	Error      string            `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PredictionRecord) TableName() string { return "ai_predictions" }
