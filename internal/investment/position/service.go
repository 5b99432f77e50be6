package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
	"github.com/sfranczak/FinanceCore/internal/investment/models"
)

// RefreshInterval is the minimum gap between two whole-portfolio market
// refreshes for one user. Single-ticker lookups are not throttled.
const RefreshInterval = 60 * time.Minute

// BalanceReader provides the derived liquidity used as the pre-write
// guard on transactional buys.
type BalanceReader interface {
	Liquidity(ctx context.Context, userID string) (decimal.Decimal, error)
}

// QuoteProvider is the external market data collaborator.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, ticker string) (*models.Quote, error)
}

// CommissionCategories lazily resolves the reserved category broker fees
// are booked against.
type CommissionCategories interface {
	GetOrCreateCommissionCategory(ctx context.Context, userID string) (int, error)
}

// Service maintains weighted-average-cost positions across buy, sell,
// historical setup, edit, reversal and delete operations. Every operation
// updates the stored investment aggregate and appends the linked ledger
// rows as two separate writes; the aggregate write is guarded by the
// version compare-and-set.
type Service struct {
	investments Repository
	ledger      domain.LedgerRepository
	balances    BalanceReader
	categories  CommissionCategories
	quotes      QuoteProvider
	now         func() time.Time
}

func NewService(investments Repository, ledger domain.LedgerRepository, balances BalanceReader, categories CommissionCategories, quotes QuoteProvider) *Service {
	return &Service{
		investments: investments,
		ledger:      ledger,
		balances:    balances,
		categories:  categories,
		quotes:      quotes,
		now:         time.Now,
	}
}

// BuyOrder is a transactional purchase. InvestmentID nil creates a new
// position from the remaining fields.
type BuyOrder struct {
	UserID         string
	InvestmentID   *uuid.UUID
	Name           string
	InvestmentType string
	Ticker         *string
	IsAutomated    bool
	Quantity       decimal.Decimal
	TotalPaid      decimal.Decimal
	Fees           decimal.Decimal
	Date           time.Time
	Description    string
}

// SetupOrder is a historical cost-basis declaration: no liquidity check,
// no transfer row, invested amount taken from the user-supplied unit cost.
type SetupOrder struct {
	UserID         string
	InvestmentID   *uuid.UUID
	Name           string
	InvestmentType string
	Ticker         *string
	IsAutomated    bool
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	Date           time.Time
}

type SellOrder struct {
	UserID        string
	InvestmentID  uuid.UUID
	Quantity      decimal.Decimal
	TotalReceived decimal.Decimal
	Fees          decimal.Decimal
	Date          time.Time
}

type SellResult struct {
	Investment       *models.Investment
	CostBasisRemoved decimal.Decimal
	NetProceeds      decimal.Decimal
	RealizedPL       decimal.Decimal
}

// UpdatePatch edits metadata and, for manually valued investments, the
// current value. Nil fields are left untouched.
type UpdatePatch struct {
	Name         *string
	Ticker       *string
	CurrentValue *decimal.Decimal
}

type RefreshReport struct {
	Updated int
	Failed  int
	Skipped bool // the 60-minute window had not elapsed
}

// Buy executes a transactional purchase: the liquidity guard, the
// aggregate update, the transfer row (money leaving unassigned liquidity)
// and, when fees are present, a standalone expense against the reserved
// commission category.
func (s *Service) Buy(ctx context.Context, order BuyOrder) (*models.Investment, error) {
	quantity := domain.RoundQuantity(order.Quantity)
	totalPaid := domain.RoundMoney(order.TotalPaid)
	fees := domain.RoundMoney(order.Fees)
	if err := validateTrade(quantity, totalPaid, fees); err != nil {
		return nil, err
	}

	liquidity, err := s.balances.Liquidity(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("deriving liquidity: %w", err)
	}
	if totalPaid.GreaterThan(liquidity) {
		return nil, financeErrors.ErrInsufficientLiquidity
	}

	netInvested := domain.RoundMoney(domain.MaxZero(totalPaid.Sub(fees)))

	var investment *models.Investment
	if order.InvestmentID == nil {
		investment, err = s.createPosition(ctx, order, quantity, netInvested)
	} else {
		investment, err = s.addToPosition(ctx, *order.InvestmentID, order, quantity, netInvested)
	}
	if err != nil {
		return nil, err
	}

	investmentID := investment.ID
	transferQty := quantity
	transfer := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        order.UserID,
		Amount:        netInvested.Neg(),
		Type:          domain.TypeTransfer,
		Date:          order.Date,
		InvestmentID:  &investmentID,
		AssetQuantity: &transferQty,
		Description:   orDefault(order.Description, fmt.Sprintf("Buy %s", investment.Name)),
	}
	if err := s.ledger.Append(ctx, transfer); err != nil {
		return investment, fmt.Errorf("appending buy transfer: %w", err)
	}

	if fees.IsPositive() {
		if err := s.postCommission(ctx, order.UserID, investmentID, fees, order.Date); err != nil {
			return investment, err
		}
	}
	return investment, nil
}

// BuyHistorical records a position that predates the ledger. The invested
// amount comes straight from the declared unit cost and no money moves:
// the only ledger trace is an `initial` row carrying the unit delta so
// cascade delete and reversal stay linked.
func (s *Service) BuyHistorical(ctx context.Context, order SetupOrder) (*models.Investment, error) {
	quantity := domain.RoundQuantity(order.Quantity)
	if !quantity.IsPositive() {
		return nil, financeErrors.NewValidationError("Quantity must be greater than zero")
	}
	if order.UnitCost.IsNegative() {
		return nil, financeErrors.NewValidationError("Unit cost must not be negative")
	}
	netInvested := domain.RoundMoney(order.UnitCost.Mul(quantity))

	buyOrder := BuyOrder{
		UserID:         order.UserID,
		Name:           order.Name,
		InvestmentType: order.InvestmentType,
		Ticker:         order.Ticker,
		IsAutomated:    order.IsAutomated,
	}

	var investment *models.Investment
	var err error
	if order.InvestmentID == nil {
		investment, err = s.createPosition(ctx, buyOrder, quantity, netInvested)
	} else {
		investment, err = s.addToPosition(ctx, *order.InvestmentID, buyOrder, quantity, netInvested)
	}
	if err != nil {
		return nil, err
	}

	investmentID := investment.ID
	initialQty := quantity
	initial := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        order.UserID,
		Amount:        decimal.Zero,
		Type:          domain.TypeInitial,
		Date:          order.Date,
		InvestmentID:  &investmentID,
		AssetQuantity: &initialQty,
		Description:   fmt.Sprintf("Historical entry: %s", investment.Name),
	}
	if err := s.ledger.Append(ctx, initial); err != nil {
		return investment, fmt.Errorf("appending initial entry: %w", err)
	}
	return investment, nil
}

// Sell books a disposal at the current average cost. Capital returns to
// liquidity as a transfer row; the spread between net proceeds and the
// removed cost basis is realized P&L, booked as ordinary income or expense
// tagged with the investment id so it rolls into the liquidity totals.
func (s *Service) Sell(ctx context.Context, order SellOrder) (*SellResult, error) {
	quantity := domain.RoundQuantity(order.Quantity)
	totalReceived := domain.RoundMoney(order.TotalReceived)
	fees := domain.RoundMoney(order.Fees)
	if err := validateTrade(quantity, totalReceived, fees); err != nil {
		return nil, err
	}

	var result SellResult
	investment, err := s.mutate(ctx, order.InvestmentID, func(investment *models.Investment) error {
		if quantity.GreaterThan(investment.Quantity) {
			return financeErrors.ErrInsufficientQuantity
		}
		costBasisRemoved := domain.RoundMoney(investment.PMC().Mul(quantity))
		netProceeds := domain.RoundMoney(totalReceived.Sub(fees))
		perUnit := investment.PerUnitValue()

		investment.Quantity = domain.RoundQuantity(investment.Quantity.Sub(quantity))
		investment.InvestedAmount = domain.RoundMoney(domain.MaxZero(investment.InvestedAmount.Sub(costBasisRemoved)))
		investment.CurrentValue = domain.RoundMoney(perUnit.Mul(investment.Quantity))

		result.CostBasisRemoved = costBasisRemoved
		result.NetProceeds = netProceeds
		result.RealizedPL = domain.RoundMoney(netProceeds.Sub(costBasisRemoved))
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Investment = investment

	investmentID := investment.ID
	soldQty := quantity.Neg()
	transfer := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        order.UserID,
		Amount:        result.CostBasisRemoved,
		Type:          domain.TypeTransfer,
		Date:          order.Date,
		InvestmentID:  &investmentID,
		AssetQuantity: &soldQty,
		Description:   fmt.Sprintf("Sell %s", investment.Name),
	}
	if err := s.ledger.Append(ctx, transfer); err != nil {
		return &result, fmt.Errorf("appending sell transfer: %w", err)
	}

	if result.RealizedPL.Abs().GreaterThan(domain.MoneyTolerance) {
		pl := &domain.Transaction{
			ID:           uuid.New(),
			UserID:       order.UserID,
			Amount:       result.RealizedPL.Abs(),
			Type:         domain.TypeIncome,
			Date:         order.Date,
			InvestmentID: &investmentID,
			Description:  fmt.Sprintf("Realized gain: %s", investment.Name),
		}
		if result.RealizedPL.IsNegative() {
			pl.Type = domain.TypeExpense
			pl.Description = fmt.Sprintf("Realized loss: %s", investment.Name)
		}
		if err := s.ledger.Append(ctx, pl); err != nil {
			return &result, fmt.Errorf("appending realized P&L: %w", err)
		}
	}
	return &result, nil
}

// ReverseTransaction undoes one linked ledger row and deletes it: the
// row's unit delta comes back out of the quantity, transfer amounts come
// back into the cost basis, and the position is re-valued at the per-share
// price held right now. Best effort, not a rollback: if the price moved
// since the original operation the recomputed value drifts accordingly.
func (s *Service) ReverseTransaction(ctx context.Context, txID uuid.UUID) error {
	tx, err := s.ledger.FindByID(ctx, txID)
	if err != nil {
		return err
	}
	if tx.InvestmentID == nil {
		return financeErrors.NewValidationError("Transaction is not linked to an investment")
	}

	_, err = s.mutate(ctx, *tx.InvestmentID, func(investment *models.Investment) error {
		perUnit := investment.PerUnitValue()
		hadUnits := investment.Quantity.IsPositive()

		if tx.AssetQuantity != nil {
			investment.Quantity = domain.RoundQuantity(domain.MaxZero(investment.Quantity.Sub(*tx.AssetQuantity)))
		}
		if tx.Type == domain.TypeTransfer {
			investment.InvestedAmount = domain.RoundMoney(domain.MaxZero(investment.InvestedAmount.Add(tx.Amount)))
		}
		if hadUnits {
			investment.CurrentValue = domain.RoundMoney(perUnit.Mul(investment.Quantity))
		} else {
			investment.CurrentValue = investment.InvestedAmount
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.ledger.Delete(ctx, txID)
}

// UpdateDetails edits metadata; the current value can only be set directly
// on manually valued investments.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, patch UpdatePatch) (*models.Investment, error) {
	return s.mutate(ctx, id, func(investment *models.Investment) error {
		if patch.Name != nil {
			investment.Name = *patch.Name
		}
		if patch.Ticker != nil {
			investment.Ticker = patch.Ticker
		}
		if patch.CurrentValue != nil {
			if investment.IsAutomated {
				return financeErrors.NewValidationError("Current value of an automated investment is market-driven")
			}
			investment.CurrentValue = domain.RoundMoney(*patch.CurrentValue)
		}
		return nil
	})
}

// Delete removes the investment and cascades to every linked ledger row.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.investments.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.ledger.DeleteByInvestment(ctx, id); err != nil {
		return fmt.Errorf("deleting linked transactions: %w", err)
	}
	return s.investments.Delete(ctx, id)
}

// RefreshPortfolio re-prices all automated positions of a user from the
// market data provider. At most one sweep per RefreshInterval per user;
// provider failures on single positions are counted, logged and skipped
// rather than failing the sweep.
func (s *Service) RefreshPortfolio(ctx context.Context, userID string) (*RefreshReport, error) {
	last, err := s.investments.GetLastRefresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() && s.now().Sub(last) < RefreshInterval {
		return &RefreshReport{Skipped: true}, nil
	}

	investments, err := s.investments.ListAutomated(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &RefreshReport{}
	for _, investment := range investments {
		quote, err := s.quotes.FetchQuote(ctx, *investment.Ticker)
		if err != nil {
			log.Printf("portfolio refresh: quote for %s failed: %v", *investment.Ticker, err)
			report.Failed++
			continue
		}
		_, err = s.mutate(ctx, investment.ID, func(investment *models.Investment) error {
			investment.CurrentValue = domain.RoundMoney(quote.Price.Mul(investment.Quantity))
			return nil
		})
		if err != nil {
			log.Printf("portfolio refresh: updating %s failed: %v", investment.ID, err)
			report.Failed++
			continue
		}
		report.Updated++
	}

	if err := s.investments.SetLastRefresh(ctx, userID, s.now()); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) createPosition(ctx context.Context, order BuyOrder, quantity, netInvested decimal.Decimal) (*models.Investment, error) {
	if order.Ticker != nil {
		existing, err := s.investments.FindByTicker(ctx, order.UserID, *order.Ticker)
		if err != nil && !financeErrors.IsNotFoundError(err) {
			return nil, err
		}
		if existing != nil {
			return nil, financeErrors.ErrDuplicateTicker
		}
	}

	investment := &models.Investment{
		ID:             uuid.New(),
		UserID:         order.UserID,
		Name:           order.Name,
		InvestmentType: order.InvestmentType,
		Ticker:         order.Ticker,
		IsAutomated:    order.IsAutomated,
		Quantity:       quantity,
		InvestedAmount: netInvested,
		CurrentValue:   netInvested,
	}

	if order.IsAutomated && order.Ticker != nil {
		quote, err := s.quotes.FetchQuote(ctx, *order.Ticker)
		if err != nil {
			// Degrade to invested capital as the provisional value.
			log.Printf("creating %s: quote failed, using invested capital: %v", *order.Ticker, err)
		} else {
			investment.CurrentValue = domain.RoundMoney(quote.Price.Mul(quantity))
			if investment.Name == "" {
				investment.Name = quote.DisplayName
			}
		}
	}
	if investment.Name == "" {
		return nil, financeErrors.NewValidationError("Investment name is required")
	}

	if err := s.investments.Insert(ctx, investment); err != nil {
		return nil, err
	}
	return investment, nil
}

func (s *Service) addToPosition(ctx context.Context, id uuid.UUID, order BuyOrder, quantity, netInvested decimal.Decimal) (*models.Investment, error) {
	return s.mutate(ctx, id, func(investment *models.Investment) error {
		quantityBefore := investment.Quantity
		perUnit := investment.PerUnitValue()

		investment.Quantity = domain.RoundQuantity(quantityBefore.Add(quantity))
		investment.InvestedAmount = domain.RoundMoney(investment.InvestedAmount.Add(netInvested))

		if investment.IsAutomated && investment.Ticker != nil {
			quote, err := s.quotes.FetchQuote(ctx, *investment.Ticker)
			if err == nil {
				investment.CurrentValue = domain.RoundMoney(quote.Price.Mul(investment.Quantity))
				return nil
			}
			log.Printf("buying into %s: quote failed, scaling proportionally: %v", *investment.Ticker, err)
		}
		if quantityBefore.IsPositive() {
			investment.CurrentValue = domain.RoundMoney(perUnit.Mul(investment.Quantity))
		} else {
			investment.CurrentValue = investment.InvestedAmount
		}
		return nil
	})
}

// mutate runs a read-modify-write against the versioned investment store,
// retrying once with re-read state when the compare-and-set loses a race.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, apply func(*models.Investment) error) (*models.Investment, error) {
	for attempt := 0; ; attempt++ {
		investment, err := s.investments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := apply(investment); err != nil {
			return nil, err
		}
		err = s.investments.Update(ctx, investment)
		if err == nil {
			return investment, nil
		}
		if !errors.Is(err, financeErrors.ErrVersionConflict) || attempt > 0 {
			return nil, err
		}
	}
}

func (s *Service) postCommission(ctx context.Context, userID string, investmentID uuid.UUID, fees decimal.Decimal, date time.Time) error {
	categoryID, err := s.categories.GetOrCreateCommissionCategory(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving commission category: %w", err)
	}
	fee := &domain.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       fees,
		Type:         domain.TypeExpense,
		Date:         date,
		CategoryID:   &categoryID,
		InvestmentID: &investmentID,
		Description:  "Broker commission",
	}
	if err := s.ledger.Append(ctx, fee); err != nil {
		return fmt.Errorf("appending commission expense: %w", err)
	}
	return nil
}

func validateTrade(quantity, total, fees decimal.Decimal) error {
	if !quantity.IsPositive() {
		return financeErrors.NewValidationError("Quantity must be greater than zero")
	}
	if total.IsNegative() {
		return financeErrors.NewValidationError("Amount must not be negative")
	}
	if fees.IsNegative() {
		return financeErrors.NewValidationError("Fees must not be negative")
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
