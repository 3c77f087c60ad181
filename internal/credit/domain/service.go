package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// TopUpFloor is the balance every implicit top-up replenishes to.
const TopUpFloor int64 = 600

// PeriodLengthDays is the billing period rolled forward on top-up.
const PeriodLengthDays = 30

type DeductRequest struct {
	UserID    snowflake.ID
	Amount    int64
	Operation string
	ToolID    string
	BatchID   string
	Metadata  map[string]any
}

type DeductResult struct {
	Remaining int64 `json:"remaining"`
}

type Service interface {
	// GetBalance returns the user's spendable credits, provisioning a zero
	// balance on first touch.
	GetBalance(ctx context.Context, userID snowflake.ID) (int64, error)

	// Deduct re-checks the balance, tops up to the floor when the balance is
	// insufficient or the billing period has lapsed, then atomically
	// decrements. It fails with ErrInsufficientCredits when even the top-up
	// cannot cover the amount.
	Deduct(ctx context.Context, req DeductRequest) (DeductResult, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrConcurrentDeduction = errors.New("concurrent_deduction")
)
