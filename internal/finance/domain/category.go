package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CommissionCategoryName is the reserved category broker fees are booked
// against. It is created lazily on the first buy that carries fees.
const CommissionCategoryName = "Broker commissions"

type Category struct {
	ID          int
	UserID      string
	Name        string
	Type        TransactionType // income or expense
	BudgetLimit *decimal.Decimal
	ParentID    *int
}

// HasBudget reports whether the category takes part in budget progress
// tracking.
func (c *Category) HasBudget() bool {
	return c.BudgetLimit != nil && c.BudgetLimit.IsPositive()
}

type CategoryRepository interface {
	DoesCategoryExist(ctx context.Context, categoryID int, userID string) (bool, error)
	ListBudgeted(ctx context.Context, userID string) ([]Category, error)
	GetOrCreateCommissionCategory(ctx context.Context, userID string) (int, error)
}
