package infrastructure

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
)

type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) DoesCategoryExist(ctx context.Context, categoryID int, userID string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1 AND user_id = $2)"
	err := r.db.QueryRowContext(ctx, query, categoryID, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *CategoryRepository) ListBudgeted(ctx context.Context, userID string) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, budget_limit, parent_id
        FROM categories
        WHERE user_id = $1 AND budget_limit IS NOT NULL AND budget_limit > 0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var category domain.Category
		var categoryType string
		var budgetLimit decimal.NullDecimal
		var parentID sql.NullInt64
		if err := rows.Scan(&category.ID, &category.UserID, &category.Name, &categoryType, &budgetLimit, &parentID); err != nil {
			return nil, err
		}
		category.Type = domain.TransactionType(categoryType)
		if budgetLimit.Valid {
			limit := budgetLimit.Decimal
			category.BudgetLimit = &limit
		}
		if parentID.Valid {
			id := int(parentID.Int64)
			category.ParentID = &id
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// GetOrCreateCommissionCategory returns the reserved commission category
// for the user, creating it on first use. The upsert keeps concurrent
// first buys from racing two rows into existence.
func (r *CategoryRepository) GetOrCreateCommissionCategory(ctx context.Context, userID string) (int, error) {
	var id int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO categories (user_id, name, type)
        VALUES ($1, $2, 'expense')
        ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id`,
		userID, domain.CommissionCategoryName,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}
