package application

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
)

// InvestmentReader is the slice of the investment store the balance
// derivation needs: the summed current value of a user's positions.
type InvestmentReader interface {
	TotalCurrentValue(ctx context.Context, userID string) (decimal.Decimal, error)
}

// BalanceSheet is everything the presentation layer shows as "totals".
// All values are derived from the ledger plus the stored bucket and
// investment aggregates; nothing here is persisted.
type BalanceSheet struct {
	TotalIncome         decimal.Decimal
	TotalExpenses       decimal.Decimal
	UnassignedLiquidity decimal.Decimal
	Liquidity           decimal.Decimal
	InvestmentsTotal    decimal.Decimal
	NetWorth            decimal.Decimal
	MonthIncome         decimal.Decimal
	MonthExpenses       decimal.Decimal
	BudgetProgress      []BudgetProgress
}

// BudgetProgress tracks current-month spending against a category budget.
// Only expenses carrying that exact category id count: spending on child
// categories does not roll up into the parent. Known limitation.
type BudgetProgress struct {
	CategoryID   int
	CategoryName string
	Limit        decimal.Decimal
	Spent        decimal.Decimal
}

// BalanceService derives liquidity and net worth from the full transaction
// set. It is read-only and deterministic: recomputing on an unchanged
// ledger always yields the same sheet.
type BalanceService struct {
	ledger      domain.LedgerRepository
	buckets     domain.BucketRepository
	categories  domain.CategoryRepository
	investments InvestmentReader
	now         func() time.Time
}

func NewBalanceService(ledger domain.LedgerRepository, buckets domain.BucketRepository, categories domain.CategoryRepository, investments InvestmentReader) *BalanceService {
	return &BalanceService{
		ledger:      ledger,
		buckets:     buckets,
		categories:  categories,
		investments: investments,
		now:         time.Now,
	}
}

// ComputeBalances derives the full balance sheet for a user.
//
// Income and expense totals include investment-linked rows: realized
// gains and losses carry an investment id but are typed as ordinary
// income/expense and deliberately roll into liquidity. Transfers with a
// bucket id are already reflected in that bucket's stored balance and must
// not be counted again; only null-bucket transfers feed the unassigned
// pool. An empty ledger yields the all-zero sheet, never an error.
func (s *BalanceService) ComputeBalances(ctx context.Context, userID string) (*BalanceSheet, error) {
	sheet := newZeroSheet()

	transactions, err := s.ledger.FindByUser(ctx, userID)
	if err != nil {
		// An unreadable ledger degrades to the all-zero sheet rather
		// than erroring; the caller is always showing totals.
		log.Printf("balance derivation: ledger read failed for user %s: %v", userID, err)
		return sheet, nil
	}

	monthStart, monthEnd := s.currentMonth()
	unassignedTransfers := decimal.Zero

	for _, tx := range transactions {
		inMonth := !tx.Date.Before(monthStart) && tx.Date.Before(monthEnd)
		switch tx.Type {
		case domain.TypeIncome:
			sheet.TotalIncome = domain.RoundMoney(sheet.TotalIncome.Add(tx.Amount))
			if inMonth {
				sheet.MonthIncome = domain.RoundMoney(sheet.MonthIncome.Add(tx.Amount))
			}
		case domain.TypeExpense:
			sheet.TotalExpenses = domain.RoundMoney(sheet.TotalExpenses.Add(tx.Amount))
			if inMonth {
				sheet.MonthExpenses = domain.RoundMoney(sheet.MonthExpenses.Add(tx.Amount))
			}
		case domain.TypeTransfer:
			if tx.BucketID == nil {
				unassignedTransfers = domain.RoundMoney(unassignedTransfers.Add(tx.Amount))
			}
		case domain.TypeInitial:
			// Historical declarations carry no liquidity effect.
		}
	}

	buckets, err := s.buckets.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucketTotal := decimal.Zero
	for _, bucket := range buckets {
		bucketTotal = domain.RoundMoney(bucketTotal.Add(bucket.CurrentBalance))
	}

	sheet.InvestmentsTotal, err = s.investments.TotalCurrentValue(ctx, userID)
	if err != nil {
		return nil, err
	}
	sheet.InvestmentsTotal = domain.RoundMoney(sheet.InvestmentsTotal)

	sheet.UnassignedLiquidity = domain.RoundMoney(
		sheet.TotalIncome.Sub(sheet.TotalExpenses).Sub(bucketTotal).Add(unassignedTransfers))
	sheet.Liquidity = domain.RoundMoney(sheet.UnassignedLiquidity.Add(bucketTotal))
	sheet.NetWorth = domain.RoundMoney(sheet.Liquidity.Add(sheet.InvestmentsTotal))

	sheet.BudgetProgress, err = s.budgetProgress(ctx, userID, transactions, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	return sheet, nil
}

// Liquidity is the derived total available to spend (unassigned pool plus
// bucket balances). Used as the pre-write guard for investment buys.
func (s *BalanceService) Liquidity(ctx context.Context, userID string) (decimal.Decimal, error) {
	sheet, err := s.ComputeBalances(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return sheet.Liquidity, nil
}

func (s *BalanceService) budgetProgress(ctx context.Context, userID string, transactions []domain.Transaction, monthStart, monthEnd time.Time) ([]BudgetProgress, error) {
	budgeted, err := s.categories.ListBudgeted(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(budgeted) == 0 {
		return nil, nil
	}

	spentByCategory := make(map[int]decimal.Decimal, len(budgeted))
	for _, tx := range transactions {
		if tx.Type != domain.TypeExpense || tx.CategoryID == nil {
			continue
		}
		if tx.Date.Before(monthStart) || !tx.Date.Before(monthEnd) {
			continue
		}
		spentByCategory[*tx.CategoryID] = domain.RoundMoney(spentByCategory[*tx.CategoryID].Add(tx.Amount))
	}

	progress := make([]BudgetProgress, 0, len(budgeted))
	for _, category := range budgeted {
		progress = append(progress, BudgetProgress{
			CategoryID:   category.ID,
			CategoryName: category.Name,
			Limit:        *category.BudgetLimit,
			Spent:        spentByCategory[category.ID],
		})
	}
	return progress, nil
}

func (s *BalanceService) currentMonth() (time.Time, time.Time) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}

func newZeroSheet() *BalanceSheet {
	return &BalanceSheet{
		TotalIncome:         decimal.Zero,
		TotalExpenses:       decimal.Zero,
		UnassignedLiquidity: decimal.Zero,
		Liquidity:           decimal.Zero,
		InvestmentsTotal:    decimal.Zero,
		NetWorth:            decimal.Zero,
		MonthIncome:         decimal.Zero,
		MonthExpenses:       decimal.Zero,
	}
}
