package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BucketState string

const (
	// BucketAccumulating buckets take part in automatic distribution.
	BucketAccumulating BucketState = "accumulating"
	// BucketCapped buckets reached their target; their distribution
	// percentage was zeroed and they receive nothing until reconfigured.
	BucketCapped BucketState = "capped"
)

// Bucket is a named savings sub-account. CurrentBalance is stored and
// authoritative, not derived from the ledger; the waterfall and transfer
// operations keep it in sync with the transfer rows they append.
type Bucket struct {
	ID                     uuid.UUID
	UserID                 string
	Name                   string
	DistributionPercentage decimal.Decimal // 0-100, user-wide sum must stay <= 100
	CurrentBalance         decimal.Decimal
	TargetAmount           *decimal.Decimal // optional funding cap
	State                  BucketState
	Version                int64 // optimistic concurrency stamp
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// HasTarget reports whether the bucket carries a positive funding cap.
func (b *Bucket) HasTarget() bool {
	return b.TargetAmount != nil && b.TargetAmount.IsPositive()
}

// Space is how much the bucket can still absorb before hitting its target.
// Buckets without a target have unbounded space and return zero here; call
// HasTarget first.
func (b *Bucket) Space() decimal.Decimal {
	if !b.HasTarget() {
		return decimal.Zero
	}
	return MaxZero(b.TargetAmount.Sub(b.CurrentBalance))
}

// RecomputeState re-derives the accumulating/capped tag from the current
// balance and target. Reaching the target zeroes the distribution
// percentage (the one-way graduation of automatic funding); raising or
// clearing the target later flips the state back to accumulating, but the
// percentage stays at whatever the user configured.
func (b *Bucket) RecomputeState() {
	if b.HasTarget() && b.CurrentBalance.GreaterThanOrEqual(*b.TargetAmount) {
		if b.State != BucketCapped {
			b.State = BucketCapped
			b.DistributionPercentage = decimal.Zero
		}
		return
	}
	b.State = BucketAccumulating
}

// BucketRepository is the bucket aggregate store. Update is a compare-and-
// set on Version and fails with errors.ErrVersionConflict when the stored
// row moved on since the read.
type BucketRepository interface {
	ListByUser(ctx context.Context, userID string) ([]Bucket, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Bucket, error)
	Insert(ctx context.Context, bucket *Bucket) error
	Update(ctx context.Context, bucket *Bucket) error
	Delete(ctx context.Context, id uuid.UUID) error
}
