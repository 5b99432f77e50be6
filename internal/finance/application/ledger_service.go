package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
)

// LedgerService is the plain CRUD surface over the transaction log for
// rows that carry no aggregate side effects (ordinary income and expenses
// without automatic distribution). Bucket- and investment-affecting writes
// go through the allocation and position services instead.
type LedgerService struct {
	ledger     domain.LedgerRepository
	categories domain.CategoryRepository
}

func NewLedgerService(ledger domain.LedgerRepository, categories domain.CategoryRepository) *LedgerService {
	return &LedgerService{ledger: ledger, categories: categories}
}

func (s *LedgerService) RecordTransaction(ctx context.Context, tx *domain.Transaction) error {
	tx.ID = uuid.New()
	tx.Round()
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.Type == domain.TypeTransfer || tx.Type == domain.TypeInitial {
		return financeErrors.NewValidationError("Transfers and initial entries are recorded by their owning operation")
	}
	if err := s.checkCategory(ctx, tx); err != nil {
		return err
	}
	return s.ledger.Append(ctx, tx)
}

// UpdateTransaction replaces a ledger row wholesale. Rows are immutable by
// convention; an edit is modeled as full replacement.
func (s *LedgerService) UpdateTransaction(ctx context.Context, tx domain.Transaction) error {
	tx.Round()
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := s.checkCategory(ctx, &tx); err != nil {
		return err
	}
	return s.ledger.Update(ctx, tx)
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	return s.ledger.Delete(ctx, id)
}

func (s *LedgerService) GetUserTransactions(ctx context.Context, userID string, filter domain.LedgerFilter) ([]domain.Transaction, error) {
	transactions, err := s.ledger.Query(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if transactions == nil {
		return []domain.Transaction{}, nil
	}
	return transactions, nil
}

func (s *LedgerService) GetTransactionsInDateRange(ctx context.Context, userID string, startDate, endDate time.Time) ([]domain.Transaction, error) {
	return s.GetUserTransactions(ctx, userID, domain.LedgerFilter{StartDate: &startDate, EndDate: &endDate})
}

func (s *LedgerService) checkCategory(ctx context.Context, tx *domain.Transaction) error {
	if tx.CategoryID == nil {
		return nil
	}
	exists, err := s.categories.DoesCategoryExist(ctx, *tx.CategoryID, tx.UserID)
	if err != nil {
		return err
	}
	if !exists {
		return financeErrors.NewValidationError("Invalid category")
	}
	return nil
}
