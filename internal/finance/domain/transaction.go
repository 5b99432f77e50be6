package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/errors"
)

type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
	TypeInitial  TransactionType = "initial"
)

// Transaction is one ledger row. Rows are immutable by convention: an edit
// is a full replacement through Update, never an in-place tweak.
//
// A row records the effect on exactly one pool: the bucket identified by
// BucketID, or the unassigned-liquidity pool when BucketID is nil. The
// other side of a transfer is applied by mutating the destination aggregate
// (bucket balance or investment fields) in the same logical operation.
// This is single-entry bookkeeping plus direct aggregate mutation, and the
// derivation formulas in the balance service depend on it staying that way.
type Transaction struct {
	ID            uuid.UUID
	UserID        string
	Amount        decimal.Decimal
	Type          TransactionType
	Date          time.Time
	CreatedAt     time.Time // tie-break ordering for rows on the same date
	CategoryID    *int
	BucketID      *uuid.UUID
	InvestmentID  *uuid.UUID
	AssetQuantity *decimal.Decimal // signed unit delta, 6 decimal places
	Description   string
}

func (t *Transaction) Validate() error {
	switch t.Type {
	case TypeIncome, TypeExpense, TypeTransfer, TypeInitial:
	default:
		return errors.NewValidationError("Type must be 'income', 'expense', 'transfer' or 'initial'")
	}
	if len(t.Description) > 200 {
		return errors.NewValidationError("Description must be of length less than 200")
	}
	return nil
}

// Round normalizes the row to the ledger precision: 2 places for the
// amount, 6 for the asset quantity.
func (t *Transaction) Round() {
	t.Amount = RoundMoney(t.Amount)
	if t.AssetQuantity != nil {
		q := RoundQuantity(*t.AssetQuantity)
		t.AssetQuantity = &q
	}
}

// LedgerFilter narrows a ledger query. Nil fields are ignored.
type LedgerFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	Type         *TransactionType
	CategoryID   *int
	BucketID     *uuid.UUID
	InvestmentID *uuid.UUID
}

// LedgerRepository is the append/update/delete contract over the
// transaction log. Query results are ordered by (date, created_at).
type LedgerRepository interface {
	Append(ctx context.Context, tx *Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByUser(ctx context.Context, userID string) ([]Transaction, error)
	Query(ctx context.Context, userID string, filter LedgerFilter) ([]Transaction, error)
	Update(ctx context.Context, tx Transaction) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByInvestment(ctx context.Context, investmentID uuid.UUID) error
}
