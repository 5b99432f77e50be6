package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
)

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, user_id, amount, type, date, created_at, category_id, bucket_id, investment_id, asset_quantity, description`

func (r *LedgerRepository) Append(ctx context.Context, tx *domain.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
        (id, user_id, amount, type, date, created_at, category_id, bucket_id, investment_id, asset_quantity, description)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.UserID, tx.Amount, string(tx.Type), tx.Date, tx.CreatedAt,
		nullableInt(tx.CategoryID), nullableUUID(tx.BucketID), nullableUUID(tx.InvestmentID),
		nullableDecimal(tx.AssetQuantity), tx.Description,
	)
	return err
}

func (r *LedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, financeErrors.NewNotFoundError("transaction", id.String())
		}
		return nil, err
	}
	return tx, nil
}

func (r *LedgerRepository) FindByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return r.Query(ctx, userID, domain.LedgerFilter{})
}

func (r *LedgerRepository) Query(ctx context.Context, userID string, filter domain.LedgerFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM transactions WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if filter.BucketID != nil {
		args = append(args, *filter.BucketID)
		query += fmt.Sprintf(" AND bucket_id = $%d", len(args))
	}
	if filter.InvestmentID != nil {
		args = append(args, *filter.InvestmentID)
		query += fmt.Sprintf(" AND investment_id = $%d", len(args))
	}
	query += " ORDER BY date, created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func (r *LedgerRepository) Update(ctx context.Context, tx domain.Transaction) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions
        SET amount = $2, type = $3, date = $4, category_id = $5, bucket_id = $6,
            investment_id = $7, asset_quantity = $8, description = $9
        WHERE id = $1`,
		tx.ID, tx.Amount, string(tx.Type), tx.Date,
		nullableInt(tx.CategoryID), nullableUUID(tx.BucketID), nullableUUID(tx.InvestmentID),
		nullableDecimal(tx.AssetQuantity), tx.Description,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return financeErrors.NewNotFoundError("transaction", tx.ID.String())
	}
	return nil
}

func (r *LedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return financeErrors.NewNotFoundError("transaction", id.String())
	}
	return nil
}

func (r *LedgerRepository) DeleteByInvestment(ctx context.Context, investmentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE investment_id = $1`, investmentID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType string
	var categoryID sql.NullInt64
	var bucketID, investmentID uuid.NullUUID
	var assetQuantity decimal.NullDecimal

	err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount, &txType, &tx.Date, &tx.CreatedAt,
		&categoryID, &bucketID, &investmentID, &assetQuantity, &tx.Description)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	if categoryID.Valid {
		id := int(categoryID.Int64)
		tx.CategoryID = &id
	}
	if bucketID.Valid {
		id := bucketID.UUID
		tx.BucketID = &id
	}
	if investmentID.Valid {
		id := investmentID.UUID
		tx.InvestmentID = &id
	}
	if assetQuantity.Valid {
		q := assetQuantity.Decimal
		tx.AssetQuantity = &q
	}
	return &tx, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableUUID(v *uuid.UUID) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *v, Valid: true}
}

func nullableDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
