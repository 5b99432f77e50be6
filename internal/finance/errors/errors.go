package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(msg string) error {
	return &ValidationError{Msg: msg}
}

func IsValidationError(err error) bool {
	var validationError *ValidationError
	ok := errors.As(err, &validationError)
	return ok
}

// Pre-write aborts: these fire before any ledger or aggregate mutation.
var (
	ErrInsufficientLiquidity   = NewValidationError("Total paid exceeds available liquidity")
	ErrInsufficientQuantity    = NewValidationError("Requested units exceed held quantity")
	ErrDistributionSumExceeded = NewValidationError("Bucket distribution percentages exceed 100")
	ErrDuplicateTicker         = NewValidationError("An investment with this ticker already exists")
)

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func IsNotFoundError(err error) bool {
	var notFoundError *NotFoundError
	ok := errors.As(err, &notFoundError)
	return ok
}

// ExternalProviderError wraps a market data failure. Callers degrade
// gracefully instead of aborting: provisional values fall back to invested
// capital and batch refreshes report partial success.
type ExternalProviderError struct {
	Provider string
	Err      error
}

func (e *ExternalProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ExternalProviderError) Unwrap() error {
	return e.Err
}

func NewExternalProviderError(provider string, err error) error {
	return &ExternalProviderError{Provider: provider, Err: err}
}

func IsExternalProviderError(err error) bool {
	var providerError *ExternalProviderError
	ok := errors.As(err, &providerError)
	return ok
}

// ErrVersionConflict reports a lost compare-and-set: the aggregate row was
// modified between the read and the write.
var ErrVersionConflict = errors.New("aggregate was modified concurrently")

// PartialAllocationError surfaces a waterfall run that failed after some
// buckets were already funded. The applied side effects are not rolled
// back; the caller decides how to reconcile.
type PartialAllocationError struct {
	AppliedBuckets []uuid.UUID
	Err            error
}

func (e *PartialAllocationError) Error() string {
	return fmt.Sprintf("allocation applied to %d bucket(s) before failing: %v", len(e.AppliedBuckets), e.Err)
}

func (e *PartialAllocationError) Unwrap() error {
	return e.Err
}

func IsPartialAllocationError(err error) bool {
	var partialError *PartialAllocationError
	ok := errors.As(err, &partialError)
	return ok
}
