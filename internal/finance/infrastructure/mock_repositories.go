package infrastructure

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
)

// In-memory repository twins used by the engine unit tests. They mirror
// the SQL repositories' contracts, including the compare-and-set version
// semantics on buckets.

type MockLedgerRepository struct {
	mu           sync.Mutex
	Transactions []domain.Transaction
	// AppendErr fails every Append; FailAppendAfter fails the Nth and
	// later ones, for partial-application scenarios.
	AppendErr       error
	FailAppendAfter int
	QueryErr        error
	appendCalls     int
	seq             int
}

func (m *MockLedgerRepository) Append(ctx context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.appendCalls++
	if m.FailAppendAfter > 0 && m.appendCalls >= m.FailAppendAfter {
		return errors.New("ledger append failed")
	}
	if tx.CreatedAt.IsZero() {
		// Monotonic stamps so same-date rows keep insertion order.
		m.seq++
		tx.CreatedAt = time.Unix(0, int64(m.seq))
	}
	m.Transactions = append(m.Transactions, *tx)
	return nil
}

func (m *MockLedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.Transactions {
		if tx.ID == id {
			found := tx
			return &found, nil
		}
	}
	return nil, financeErrors.NewNotFoundError("transaction", id.String())
}

func (m *MockLedgerRepository) FindByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return m.Query(ctx, userID, domain.LedgerFilter{})
}

func (m *MockLedgerRepository) Query(ctx context.Context, userID string, filter domain.LedgerFilter) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var result []domain.Transaction
	for _, tx := range m.Transactions {
		if tx.UserID != userID {
			continue
		}
		if filter.StartDate != nil && tx.Date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && tx.Date.After(*filter.EndDate) {
			continue
		}
		if filter.Type != nil && tx.Type != *filter.Type {
			continue
		}
		if filter.CategoryID != nil && (tx.CategoryID == nil || *tx.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.BucketID != nil && (tx.BucketID == nil || *tx.BucketID != *filter.BucketID) {
			continue
		}
		if filter.InvestmentID != nil && (tx.InvestmentID == nil || *tx.InvestmentID != *filter.InvestmentID) {
			continue
		}
		result = append(result, tx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Date.Equal(result[j].Date) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *MockLedgerRepository) Update(ctx context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Transactions {
		if m.Transactions[i].ID == tx.ID {
			tx.CreatedAt = m.Transactions[i].CreatedAt
			m.Transactions[i] = tx
			return nil
		}
	}
	return financeErrors.NewNotFoundError("transaction", tx.ID.String())
}

func (m *MockLedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Transactions {
		if m.Transactions[i].ID == id {
			m.Transactions = append(m.Transactions[:i], m.Transactions[i+1:]...)
			return nil
		}
	}
	return financeErrors.NewNotFoundError("transaction", id.String())
}

func (m *MockLedgerRepository) DeleteByInvestment(ctx context.Context, investmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Transactions[:0]
	for _, tx := range m.Transactions {
		if tx.InvestmentID == nil || *tx.InvestmentID != investmentID {
			kept = append(kept, tx)
		}
	}
	m.Transactions = kept
	return nil
}

type MockBucketRepository struct {
	mu      sync.Mutex
	Buckets map[uuid.UUID]*domain.Bucket
	ListErr error
	// UpdateHook runs before each Update and can inject a concurrent
	// writer to reproduce the read-modify-write race.
	UpdateHook func(bucket *domain.Bucket)
}

func NewMockBucketRepository() *MockBucketRepository {
	return &MockBucketRepository{Buckets: make(map[uuid.UUID]*domain.Bucket)}
}

func (m *MockBucketRepository) ListByUser(ctx context.Context, userID string) ([]domain.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var buckets []domain.Bucket
	for _, bucket := range m.Buckets {
		if bucket.UserID == userID {
			buckets = append(buckets, *bucket)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].CreatedAt.Before(buckets[j].CreatedAt) })
	return buckets, nil
}

func (m *MockBucketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.Buckets[id]
	if !ok {
		return nil, financeErrors.NewNotFoundError("bucket", id.String())
	}
	found := *bucket
	return &found, nil
}

func (m *MockBucketRepository) Insert(ctx context.Context, bucket *domain.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket.Version = 1
	if bucket.CreatedAt.IsZero() {
		bucket.CreatedAt = time.Now()
	}
	stored := *bucket
	m.Buckets[bucket.ID] = &stored
	return nil
}

func (m *MockBucketRepository) Update(ctx context.Context, bucket *domain.Bucket) error {
	if m.UpdateHook != nil {
		m.UpdateHook(bucket)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.Buckets[bucket.ID]
	if !ok {
		return financeErrors.NewNotFoundError("bucket", bucket.ID.String())
	}
	if stored.Version != bucket.Version {
		return financeErrors.ErrVersionConflict
	}
	bucket.Version++
	updated := *bucket
	m.Buckets[bucket.ID] = &updated
	return nil
}

func (m *MockBucketRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Buckets[id]; !ok {
		return financeErrors.NewNotFoundError("bucket", id.String())
	}
	delete(m.Buckets, id)
	return nil
}

type MockCategoryRepository struct {
	Categories   []domain.Category
	CommissionID int
}

func (m *MockCategoryRepository) DoesCategoryExist(ctx context.Context, categoryID int, userID string) (bool, error) {
	for _, category := range m.Categories {
		if category.ID == categoryID && category.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCategoryRepository) ListBudgeted(ctx context.Context, userID string) ([]domain.Category, error) {
	var budgeted []domain.Category
	for _, category := range m.Categories {
		if category.UserID == userID && category.HasBudget() {
			budgeted = append(budgeted, category)
		}
	}
	return budgeted, nil
}

func (m *MockCategoryRepository) GetOrCreateCommissionCategory(ctx context.Context, userID string) (int, error) {
	for _, category := range m.Categories {
		if category.UserID == userID && category.Name == domain.CommissionCategoryName {
			return category.ID, nil
		}
	}
	if m.CommissionID == 0 {
		m.CommissionID = len(m.Categories) + 1000
	}
	m.Categories = append(m.Categories, domain.Category{
		ID:     m.CommissionID,
		UserID: userID,
		Name:   domain.CommissionCategoryName,
		Type:   domain.TypeExpense,
	})
	return m.CommissionID, nil
}
