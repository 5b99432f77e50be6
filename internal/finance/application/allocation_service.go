package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
)

// BucketAllocation is one bucket's share of a distributed income.
type BucketAllocation struct {
	BucketID  uuid.UUID
	Name      string
	Amount    decimal.Decimal
	Graduated bool // the bucket reached its target during this run
}

// AllocationResult reports a waterfall run. Allocated never exceeds the
// income amount; Unallocated is the residue left in unassigned liquidity.
type AllocationResult struct {
	Allocations []BucketAllocation
	Allocated   decimal.Decimal
	Unallocated decimal.Decimal
}

// AllocationService distributes incoming money across savings buckets with
// the cascading overflow ("waterfall") algorithm.
type AllocationService struct {
	ledger  domain.LedgerRepository
	buckets domain.BucketRepository
}

func NewAllocationService(ledger domain.LedgerRepository, buckets domain.BucketRepository) *AllocationService {
	return &AllocationService{ledger: ledger, buckets: buckets}
}

// ValidateDistribution checks that a user's distribution percentages,
// with candidate replacing the stored percentage of the bucket it names,
// still sum to at most 100 (plus rounding tolerance).
func (s *AllocationService) ValidateDistribution(ctx context.Context, userID string, bucketID uuid.UUID, candidate decimal.Decimal) error {
	if candidate.IsNegative() || candidate.GreaterThan(domain.Hundred) {
		return financeErrors.NewValidationError("Distribution percentage must be between 0 and 100")
	}
	buckets, err := s.buckets.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	sum := candidate
	for _, bucket := range buckets {
		if bucket.ID == bucketID {
			continue
		}
		sum = sum.Add(bucket.DistributionPercentage)
	}
	if sum.GreaterThan(domain.Hundred.Add(domain.PercentTolerance)) {
		return financeErrors.ErrDistributionSumExceeded
	}
	return nil
}

// DistributeIncome records an income transaction and runs the waterfall
// over the user's buckets.
//
// Per funded bucket it appends a transfer row (amount = -allocation,
// bucket id set) and raises the stored balance; a bucket reaching its
// target graduates (distribution percentage zeroed, one way). The run is
// not transactional across buckets: a failure partway through surfaces as
// a PartialAllocationError naming the buckets already funded, and the
// applied side effects stay in place.
func (s *AllocationService) DistributeIncome(ctx context.Context, income *domain.Transaction) (*AllocationResult, error) {
	if income.Type != domain.TypeIncome {
		return nil, financeErrors.NewValidationError("Distribution requires an income transaction")
	}
	income.Round()
	if !income.Amount.IsPositive() {
		return nil, financeErrors.NewValidationError("Income amount must be greater than zero")
	}
	if err := income.Validate(); err != nil {
		return nil, err
	}

	if income.ID == uuid.Nil {
		income.ID = uuid.New()
	}
	if err := s.ledger.Append(ctx, income); err != nil {
		return nil, fmt.Errorf("recording income: %w", err)
	}

	buckets, err := s.buckets.ListByUser(ctx, income.UserID)
	if err != nil {
		// The income row is already in the ledger; no bucket was funded.
		return nil, &financeErrors.PartialAllocationError{
			Err: fmt.Errorf("listing buckets: %w", err),
		}
	}

	allocations := runWaterfall(income.Amount, buckets)

	result := &AllocationResult{
		Allocated:   decimal.Zero,
		Unallocated: income.Amount,
	}
	var applied []uuid.UUID
	for _, allocation := range allocations {
		graduated, err := s.applyAllocation(ctx, income, allocation)
		if err != nil {
			return result, &financeErrors.PartialAllocationError{AppliedBuckets: applied, Err: err}
		}
		applied = append(applied, allocation.bucket.ID)
		result.Allocations = append(result.Allocations, BucketAllocation{
			BucketID:  allocation.bucket.ID,
			Name:      allocation.bucket.Name,
			Amount:    allocation.amount,
			Graduated: graduated,
		})
		result.Allocated = domain.RoundMoney(result.Allocated.Add(allocation.amount))
		result.Unallocated = domain.RoundMoney(result.Unallocated.Sub(allocation.amount))
	}
	return result, nil
}

type allocation struct {
	bucket *domain.Bucket
	amount decimal.Decimal
}

type waterfallState struct {
	bucket   domain.Bucket
	alloc    decimal.Decimal
	eligible bool
}

// runWaterfall computes per-bucket allocations for an income amount.
//
// Fixed point over successive passes: theoretical shares are clamped to
// each bucket's remaining space, the overflow pools up and is handed back
// to the still-eligible buckets at their raw percentages. Raw, not
// renormalized: when the remaining weights sum below 100, part of the pool
// is deliberately never redistributed and stays unassigned.
func runWaterfall(amount decimal.Decimal, buckets []domain.Bucket) []allocation {
	// Rounded shares are handed out against a running remainder: half-up
	// rounding on tiny amounts would otherwise credit more than the income
	// contained (two 50% shares of 0.03 both round to 0.02).
	states := make([]waterfallState, 0, len(buckets))
	remaining := amount
	for _, bucket := range buckets {
		if !bucket.DistributionPercentage.IsPositive() {
			continue
		}
		share := domain.RoundMoney(amount.Mul(bucket.DistributionPercentage).Div(domain.Hundred))
		if share.GreaterThan(remaining) {
			share = remaining
		}
		remaining = domain.RoundMoney(remaining.Sub(share))
		states = append(states, waterfallState{
			bucket:   bucket,
			alloc:    share,
			eligible: true,
		})
	}

	pool := decimal.Zero
	for {
		clamped := false
		for i := range states {
			st := &states[i]
			if !st.eligible || !st.bucket.HasTarget() {
				continue
			}
			space := st.bucket.Space()
			if st.alloc.GreaterThan(space) {
				pool = domain.RoundMoney(pool.Add(st.alloc.Sub(space)))
				st.alloc = space
				st.eligible = false
				clamped = true
			}
		}

		redistributed := false
		if pool.GreaterThan(domain.MoneyTolerance) && anyEligible(states) {
			left := pool
			for i := range states {
				st := &states[i]
				if !st.eligible {
					continue
				}
				share := domain.RoundMoney(pool.Mul(st.bucket.DistributionPercentage).Div(domain.Hundred))
				if share.GreaterThan(left) {
					share = left
				}
				if share.IsPositive() {
					st.alloc = domain.RoundMoney(st.alloc.Add(share))
					left = domain.RoundMoney(left.Sub(share))
					redistributed = true
				}
			}
			// Whatever the raw weights did not claim stays in
			// unassigned liquidity; it is never renormalized back in.
			pool = decimal.Zero
		}

		if !clamped && !redistributed {
			break
		}
	}

	allocations := make([]allocation, 0, len(states))
	for i := range states {
		if states[i].alloc.IsPositive() {
			allocations = append(allocations, allocation{bucket: &states[i].bucket, amount: states[i].alloc})
		}
	}
	return allocations
}

func anyEligible(states []waterfallState) bool {
	for i := range states {
		if states[i].eligible {
			return true
		}
	}
	return false
}

// applyAllocation writes one bucket's side effects: the transfer row and
// the compare-and-set balance update. A version conflict is retried once
// against re-read state before being surfaced.
func (s *AllocationService) applyAllocation(ctx context.Context, income *domain.Transaction, alloc allocation) (bool, error) {
	bucketID := alloc.bucket.ID
	transfer := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      income.UserID,
		Amount:      alloc.amount.Neg(),
		Type:        domain.TypeTransfer,
		Date:        income.Date,
		BucketID:    &bucketID,
		Description: fmt.Sprintf("Automatic distribution: %s", alloc.bucket.Name),
	}
	if err := s.ledger.Append(ctx, transfer); err != nil {
		return false, fmt.Errorf("appending transfer for bucket %s: %w", bucketID, err)
	}

	bucket := alloc.bucket
	for attempt := 0; ; attempt++ {
		bucket.CurrentBalance = domain.RoundMoney(bucket.CurrentBalance.Add(alloc.amount))
		wasCapped := bucket.State == domain.BucketCapped
		bucket.RecomputeState()
		graduated := !wasCapped && bucket.State == domain.BucketCapped

		err := s.buckets.Update(ctx, bucket)
		if err == nil {
			return graduated, nil
		}
		if !errors.Is(err, financeErrors.ErrVersionConflict) || attempt > 0 {
			return false, fmt.Errorf("updating bucket %s: %w", bucketID, err)
		}
		fresh, getErr := s.buckets.GetByID(ctx, bucketID)
		if getErr != nil {
			return false, fmt.Errorf("re-reading bucket %s after conflict: %w", bucketID, getErr)
		}
		bucket = fresh
	}
}
