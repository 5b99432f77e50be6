package position

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
	"github.com/sfranczak/FinanceCore/internal/investment/models"
)

// Repository is the investment aggregate store. Update is a compare-and-
// set on Version, same scheme as the bucket store.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]models.Investment, error)
	ListAutomated(ctx context.Context, userID string) ([]models.Investment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	FindByTicker(ctx context.Context, userID, ticker string) (*models.Investment, error)
	Insert(ctx context.Context, investment *models.Investment) error
	Update(ctx context.Context, investment *models.Investment) error
	Delete(ctx context.Context, id uuid.UUID) error
	TotalCurrentValue(ctx context.Context, userID string) (decimal.Decimal, error)
	GetLastRefresh(ctx context.Context, userID string) (time.Time, error)
	SetLastRefresh(ctx context.Context, userID string, refreshedAt time.Time) error
}

type investmentRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &investmentRepository{db: db}
}

const investmentColumns = `id, user_id, name, investment_type, ticker, is_automated, quantity, invested_amount, current_value, version, created_at, updated_at`

func (r *investmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Investment, error) {
	return r.list(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *investmentRepository) ListAutomated(ctx context.Context, userID string) ([]models.Investment, error) {
	return r.list(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 AND is_automated AND ticker IS NOT NULL ORDER BY created_at`, userID)
}

func (r *investmentRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Investment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var investments []models.Investment
	for rows.Next() {
		investment, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		investments = append(investments, *investment)
	}
	return investments, rows.Err()
}

func (r *investmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id)
	investment, err := scanInvestment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, financeErrors.NewNotFoundError("investment", id.String())
		}
		return nil, err
	}
	return investment, nil
}

func (r *investmentRepository) FindByTicker(ctx context.Context, userID, ticker string) (*models.Investment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 AND UPPER(ticker) = UPPER($2)`, userID, ticker)
	investment, err := scanInvestment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, financeErrors.NewNotFoundError("investment", ticker)
		}
		return nil, err
	}
	return investment, nil
}

func (r *investmentRepository) Insert(ctx context.Context, investment *models.Investment) error {
	investment.Version = 1
	investment.CreatedAt = time.Now()
	investment.UpdatedAt = investment.CreatedAt
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO investments
        (id, user_id, name, investment_type, ticker, is_automated, quantity, invested_amount, current_value, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		investment.ID, investment.UserID, investment.Name, investment.InvestmentType,
		nullableString(investment.Ticker), investment.IsAutomated, investment.Quantity,
		investment.InvestedAmount, investment.CurrentValue, investment.Version,
		investment.CreatedAt, investment.UpdatedAt,
	)
	return err
}

func (r *investmentRepository) Update(ctx context.Context, investment *models.Investment) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE investments
        SET name = $3, investment_type = $4, ticker = $5, is_automated = $6,
            quantity = $7, invested_amount = $8, current_value = $9,
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2`,
		investment.ID, investment.Version, investment.Name, investment.InvestmentType,
		nullableString(investment.Ticker), investment.IsAutomated, investment.Quantity,
		investment.InvestedAmount, investment.CurrentValue,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM investments WHERE id = $1)`, investment.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return financeErrors.NewNotFoundError("investment", investment.ID.String())
		}
		return financeErrors.ErrVersionConflict
	}
	investment.Version++
	return nil
}

func (r *investmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM investments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return financeErrors.NewNotFoundError("investment", id.String())
	}
	return nil
}

func (r *investmentRepository) TotalCurrentValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(current_value) FROM investments WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *investmentRepository) GetLastRefresh(ctx context.Context, userID string) (time.Time, error) {
	var refreshedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT refreshed_at FROM price_refreshes WHERE user_id = $1`, userID).Scan(&refreshedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if !refreshedAt.Valid {
		return time.Time{}, nil
	}
	return refreshedAt.Time, nil
}

func (r *investmentRepository) SetLastRefresh(ctx context.Context, userID string, refreshedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_refreshes (user_id, refreshed_at)
        VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET refreshed_at = EXCLUDED.refreshed_at`,
		userID, refreshedAt)
	return err
}

func scanInvestment(row interface{ Scan(dest ...interface{}) error }) (*models.Investment, error) {
	var investment models.Investment
	var ticker sql.NullString

	err := row.Scan(&investment.ID, &investment.UserID, &investment.Name, &investment.InvestmentType,
		&ticker, &investment.IsAutomated, &investment.Quantity, &investment.InvestedAmount,
		&investment.CurrentValue, &investment.Version, &investment.CreatedAt, &investment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ticker.Valid {
		t := ticker.String
		investment.Ticker = &t
	}
	return &investment, nil
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
