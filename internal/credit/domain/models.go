// Package domain contains persistence models for per-user credit balances.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditBalance tracks the spendable credits of one user within the current
// billing period.
type CreditBalance struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"not null;uniqueIndex"`
	AvailableCredits int64        `gorm:"not null;default:0"`
	PeriodEnd        time.Time    `gorm:"not null"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "user_credits" }

type TransactionDirection string

const (
	TransactionDirectionGrant  TransactionDirection = "grant"
	TransactionDirectionDeduct TransactionDirection = "deduct"
)

// CreditTransaction is a write-only audit row for every grant and deduction.
type CreditTransaction struct {
	ID        snowflake.ID         `gorm:"primaryKey"`
	UserID    snowflake.ID         `gorm:"not null;index"`
	Direction TransactionDirection `gorm:"type:text;not null"`
	Amount    int64                `gorm:"not null"`
	Operation string               `gorm:"type:text;not null"`
	ToolID    string               `gorm:"type:text"`
	BatchID   string               `gorm:"type:text;index"`
	Metadata  datatypes.JSONMap    `gorm:"type:jsonb"`
	CreatedAt time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
