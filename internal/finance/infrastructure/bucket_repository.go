package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
)

type BucketRepository struct {
	db *sql.DB
}

func NewBucketRepository(db *sql.DB) *BucketRepository {
	return &BucketRepository{db: db}
}

const bucketColumns = `id, user_id, name, distribution_percentage, current_balance, target_amount, state, version, created_at, updated_at`

func (r *BucketRepository) ListByUser(ctx context.Context, userID string) ([]domain.Bucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bucketColumns+` FROM buckets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.Bucket
	for rows.Next() {
		bucket, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *bucket)
	}
	return buckets, rows.Err()
}

func (r *BucketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bucket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM buckets WHERE id = $1`, id)
	bucket, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, financeErrors.NewNotFoundError("bucket", id.String())
		}
		return nil, err
	}
	return bucket, nil
}

func (r *BucketRepository) Insert(ctx context.Context, bucket *domain.Bucket) error {
	bucket.Version = 1
	bucket.CreatedAt = time.Now()
	bucket.UpdatedAt = bucket.CreatedAt
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO buckets
        (id, user_id, name, distribution_percentage, current_balance, target_amount, state, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		bucket.ID, bucket.UserID, bucket.Name, bucket.DistributionPercentage,
		bucket.CurrentBalance, nullableDecimal(bucket.TargetAmount), string(bucket.State),
		bucket.Version, bucket.CreatedAt, bucket.UpdatedAt,
	)
	return err
}

// Update is a compare-and-set: the row is only written when its stored
// version still matches the one the caller read. A lost race surfaces as
// ErrVersionConflict instead of a silently overwritten balance.
func (r *BucketRepository) Update(ctx context.Context, bucket *domain.Bucket) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE buckets
        SET name = $3, distribution_percentage = $4, current_balance = $5,
            target_amount = $6, state = $7, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2`,
		bucket.ID, bucket.Version, bucket.Name, bucket.DistributionPercentage,
		bucket.CurrentBalance, nullableDecimal(bucket.TargetAmount), string(bucket.State),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.exists(ctx, bucket.ID)
		if err != nil {
			return err
		}
		if !exists {
			return financeErrors.NewNotFoundError("bucket", bucket.ID.String())
		}
		return financeErrors.ErrVersionConflict
	}
	bucket.Version++
	return nil
}

func (r *BucketRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return financeErrors.NewNotFoundError("bucket", id.String())
	}
	return nil
}

func (r *BucketRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM buckets WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanBucket(row rowScanner) (*domain.Bucket, error) {
	var bucket domain.Bucket
	var target decimal.NullDecimal
	var state string

	err := row.Scan(&bucket.ID, &bucket.UserID, &bucket.Name, &bucket.DistributionPercentage,
		&bucket.CurrentBalance, &target, &state, &bucket.Version, &bucket.CreatedAt, &bucket.UpdatedAt)
	if err != nil {
		return nil, err
	}

	bucket.State = domain.BucketState(state)
	if target.Valid {
		t := target.Decimal
		bucket.TargetAmount = &t
	}
	return &bucket, nil
}
