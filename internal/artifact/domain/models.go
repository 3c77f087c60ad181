// Package domain contains persistence models for generated artifacts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// GeneratedArtifact is a persisted reference to produced media. Rows are
// immutable after creation; owners may only delete them.
type GeneratedArtifact struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID      `json:"user_id" gorm:"not null;index"`
	ToolID    string            `json:"tool_id" gorm:"type:text;not null;index"`
	BatchID   string            `json:"batch_id" gorm:"type:text;not null;index"`
	ImageURLs datatypes.JSON    `json:"image_urls" gorm:"type:jsonb"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GeneratedArtifact) TableName() string { return "generated_artifacts" }

// GenerationMetric is a write-only analytics row per orchestrator run.
type GenerationMetric struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;index"`
	ToolID      string            `gorm:"type:text;not null"`
	BatchID     string            `gorm:"type:text;not null"`
	CreditsUsed int64             `gorm:"not null"`
	DurationMS  int64             `gorm:"not null"`
	Parameters  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GenerationMetric) TableName() string { return "generation_metrics" }
