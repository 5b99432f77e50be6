package position

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
	financeErrors "github.com/sfranczak/FinanceCore/internal/finance/errors"
	"github.com/sfranczak/FinanceCore/internal/finance/infrastructure"
	"github.com/sfranczak/FinanceCore/internal/investment/models"
)

const testUserID = "test-user-id"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string { return &s }

// mockRepository is the in-memory twin of the SQL investment store,
// including the version compare-and-set on Update.
type mockRepository struct {
	mu          sync.Mutex
	investments map[uuid.UUID]*models.Investment
	lastRefresh map[string]time.Time
	UpdateHook  func(investment *models.Investment)
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		investments: make(map[uuid.UUID]*models.Investment),
		lastRefresh: make(map[string]time.Time),
	}
}

func (m *mockRepository) ListByUser(ctx context.Context, userID string) ([]models.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.Investment
	for _, investment := range m.investments {
		if investment.UserID == userID {
			result = append(result, *investment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *mockRepository) ListAutomated(ctx context.Context, userID string) ([]models.Investment, error) {
	all, _ := m.ListByUser(ctx, userID)
	var automated []models.Investment
	for _, investment := range all {
		if investment.IsAutomated && investment.Ticker != nil {
			automated = append(automated, investment)
		}
	}
	return automated, nil
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment, ok := m.investments[id]
	if !ok {
		return nil, financeErrors.NewNotFoundError("investment", id.String())
	}
	found := *investment
	return &found, nil
}

func (m *mockRepository) FindByTicker(ctx context.Context, userID, ticker string) (*models.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, investment := range m.investments {
		if investment.UserID == userID && investment.Ticker != nil && *investment.Ticker == ticker {
			found := *investment
			return &found, nil
		}
	}
	return nil, financeErrors.NewNotFoundError("investment", ticker)
}

func (m *mockRepository) Insert(ctx context.Context, investment *models.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment.Version = 1
	if investment.CreatedAt.IsZero() {
		investment.CreatedAt = time.Now()
	}
	stored := *investment
	m.investments[investment.ID] = &stored
	return nil
}

func (m *mockRepository) Update(ctx context.Context, investment *models.Investment) error {
	if m.UpdateHook != nil {
		m.UpdateHook(investment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.investments[investment.ID]
	if !ok {
		return financeErrors.NewNotFoundError("investment", investment.ID.String())
	}
	if stored.Version != investment.Version {
		return financeErrors.ErrVersionConflict
	}
	investment.Version++
	updated := *investment
	m.investments[investment.ID] = &updated
	return nil
}

func (m *mockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.investments[id]; !ok {
		return financeErrors.NewNotFoundError("investment", id.String())
	}
	delete(m.investments, id)
	return nil
}

func (m *mockRepository) TotalCurrentValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, investment := range m.investments {
		if investment.UserID == userID {
			total = total.Add(investment.CurrentValue)
		}
	}
	return total, nil
}

func (m *mockRepository) GetLastRefresh(ctx context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefresh[userID], nil
}

func (m *mockRepository) SetLastRefresh(ctx context.Context, userID string, refreshedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRefresh[userID] = refreshedAt
	return nil
}

type stubBalances struct {
	liquidity decimal.Decimal
}

func (s *stubBalances) Liquidity(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.liquidity, nil
}

type stubQuotes struct {
	quotes map[string]*models.Quote
	err    error
	calls  int
}

func (s *stubQuotes) FetchQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	quote, ok := s.quotes[ticker]
	if !ok {
		return nil, financeErrors.NewExternalProviderError("stub", errors.New("no quote"))
	}
	return quote, nil
}

type fixture struct {
	service    *Service
	repo       *mockRepository
	ledger     *infrastructure.MockLedgerRepository
	balances   *stubBalances
	quotes     *stubQuotes
	categories *infrastructure.MockCategoryRepository
}

func newFixture(liquidity string) *fixture {
	f := &fixture{
		repo:       newMockRepository(),
		ledger:     &infrastructure.MockLedgerRepository{},
		balances:   &stubBalances{liquidity: dec(liquidity)},
		quotes:     &stubQuotes{quotes: make(map[string]*models.Quote)},
		categories: &infrastructure.MockCategoryRepository{},
	}
	f.service = NewService(f.repo, f.ledger, f.balances, f.categories, f.quotes)
	return f
}

func tradeDate() time.Time {
	return time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
}

func TestBuy_CreatesPositionWithFees(t *testing.T) {
	f := newFixture("5000")

	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID:         testUserID,
		Name:           "Gold coins",
		InvestmentType: models.TypeOther,
		Quantity:       dec("99"),
		TotalPaid:      dec("1000"),
		Fees:           dec("10"),
		Date:           tradeDate(),
	})
	require.NoError(t, err)

	assert.True(t, investment.Quantity.Equal(dec("99")))
	assert.True(t, investment.InvestedAmount.Equal(dec("990")), "invested %s", investment.InvestedAmount)
	assert.True(t, investment.CurrentValue.Equal(dec("990")))
	assert.True(t, investment.PMC().Equal(dec("10")), "average cost %s", investment.PMC())

	rows, _ := f.ledger.FindByUser(context.Background(), testUserID)
	require.Len(t, rows, 2)

	transfer := rows[0]
	assert.Equal(t, domain.TypeTransfer, transfer.Type)
	assert.True(t, transfer.Amount.Equal(dec("-990")), "transfer %s", transfer.Amount)
	require.NotNil(t, transfer.InvestmentID)
	assert.Equal(t, investment.ID, *transfer.InvestmentID)
	require.NotNil(t, transfer.AssetQuantity)
	assert.True(t, transfer.AssetQuantity.Equal(dec("99")))

	fee := rows[1]
	assert.Equal(t, domain.TypeExpense, fee.Type)
	assert.True(t, fee.Amount.Equal(dec("10")))
	require.NotNil(t, fee.CategoryID)
	assert.Equal(t, f.categories.CommissionID, *fee.CategoryID)
}

func TestBuy_PostsSingleCentFee(t *testing.T) {
	f := newFixture("5000")

	_, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "Gold coins", InvestmentType: models.TypeOther,
		Quantity: dec("1"), TotalPaid: dec("100"), Fees: dec("0.01"), Date: tradeDate(),
	})
	require.NoError(t, err)

	// Every positive fee leaves liquidity through an expense row, even a
	// single cent: it was already deducted from the invested amount.
	rows, _ := f.ledger.FindByUser(context.Background(), testUserID)
	require.Len(t, rows, 2)
	fee := rows[1]
	assert.Equal(t, domain.TypeExpense, fee.Type)
	assert.True(t, fee.Amount.Equal(dec("0.01")), "fee %s", fee.Amount)
}

func TestBuy_AveragesCostAcrossLots(t *testing.T) {
	f := newFixture("5000")

	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "Gold coins", InvestmentType: models.TypeOther,
		Quantity: dec("99"), TotalPaid: dec("1000"), Fees: dec("10"), Date: tradeDate(),
	})
	require.NoError(t, err)

	id := investment.ID
	investment, err = f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentID: &id,
		Quantity: dec("5.5"), TotalPaid: dec("1100"), Date: tradeDate(),
	})
	require.NoError(t, err)

	assert.True(t, investment.Quantity.Equal(dec("104.5")))
	assert.True(t, investment.InvestedAmount.Equal(dec("2090")), "invested %s", investment.InvestedAmount)
	assert.True(t, investment.PMC().Equal(dec("20")), "average cost %s", investment.PMC())
	// Manually valued: per-unit value held at 10, scaled to the new quantity.
	assert.True(t, investment.CurrentValue.Equal(dec("1045")), "value %s", investment.CurrentValue)
}

func TestBuy_InsufficientLiquidity(t *testing.T) {
	f := newFixture("100")

	_, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "Gold coins", InvestmentType: models.TypeOther,
		Quantity: dec("1"), TotalPaid: dec("100.01"), Date: tradeDate(),
	})
	assert.ErrorIs(t, err, financeErrors.ErrInsufficientLiquidity)

	rows, _ := f.ledger.FindByUser(context.Background(), testUserID)
	assert.Empty(t, rows, "pre-write guard must fire before any ledger write")
	stored, _ := f.repo.ListByUser(context.Background(), testUserID)
	assert.Empty(t, stored)
}

func TestBuy_RejectsDuplicateTicker(t *testing.T) {
	f := newFixture("5000")
	f.quotes.quotes["VWCE"] = &models.Quote{Ticker: "VWCE", Price: dec("110"), DisplayName: "Vanguard FTSE All-World"}

	_, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "All-World", InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("2"), TotalPaid: dec("220"), Date: tradeDate(),
	})
	require.NoError(t, err)

	_, err = f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "All-World again", InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("1"), TotalPaid: dec("110"), Date: tradeDate(),
	})
	assert.ErrorIs(t, err, financeErrors.ErrDuplicateTicker)
}

func TestBuy_AutomatedValuesFromQuote(t *testing.T) {
	f := newFixture("5000")
	f.quotes.quotes["VWCE"] = &models.Quote{Ticker: "VWCE", Price: dec("115.50"), DisplayName: "Vanguard FTSE All-World"}

	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("10"), TotalPaid: dec("1150"), Date: tradeDate(),
	})
	require.NoError(t, err)

	assert.True(t, investment.CurrentValue.Equal(dec("1155")), "value %s", investment.CurrentValue)
	// Name left empty falls back to the provider's display name.
	assert.Equal(t, "Vanguard FTSE All-World", investment.Name)
}

func TestBuy_QuoteFailureDegradesToInvestedCapital(t *testing.T) {
	f := newFixture("5000")
	f.quotes.err = financeErrors.NewExternalProviderError("stub", errors.New("timeout"))

	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "All-World", InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("10"), TotalPaid: dec("1150"), Date: tradeDate(),
	})
	require.NoError(t, err, "provider failure must not block the buy")
	assert.True(t, investment.CurrentValue.Equal(dec("1150")))
}

func TestBuyHistorical_NoLiquidityCheckNoTransfer(t *testing.T) {
	f := newFixture("0")

	investment, err := f.service.BuyHistorical(context.Background(), SetupOrder{
		UserID:         testUserID,
		Name:           "Old bond position",
		InvestmentType: models.TypeBond,
		Quantity:       dec("40"),
		UnitCost:       dec("102.25"),
		Date:           tradeDate(),
	})
	require.NoError(t, err)

	assert.True(t, investment.InvestedAmount.Equal(dec("4090")), "invested %s", investment.InvestedAmount)
	assert.True(t, investment.CurrentValue.Equal(dec("4090")))

	rows, _ := f.ledger.FindByUser(context.Background(), testUserID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TypeInitial, rows[0].Type)
	assert.True(t, rows[0].Amount.IsZero(), "historical entries never move money")
	require.NotNil(t, rows[0].AssetQuantity)
	assert.True(t, rows[0].AssetQuantity.Equal(dec("40")))
}

func sellFixture(t *testing.T) (*fixture, *models.Investment) {
	t.Helper()
	f := newFixture("5000")
	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "Gold coins", InvestmentType: models.TypeOther,
		Quantity: dec("104.5"), TotalPaid: dec("2090"), Date: tradeDate(),
	})
	require.NoError(t, err)
	return f, investment
}

func TestSell_BooksCostBasisAndRealizedGain(t *testing.T) {
	f, investment := sellFixture(t)

	result, err := f.service.Sell(context.Background(), SellOrder{
		UserID:        testUserID,
		InvestmentID:  investment.ID,
		Quantity:      dec("26.125"),
		TotalReceived: dec("600"),
		Date:          tradeDate(),
	})
	require.NoError(t, err)

	assert.True(t, result.CostBasisRemoved.Equal(dec("522.50")), "cost basis %s", result.CostBasisRemoved)
	assert.True(t, result.RealizedPL.Equal(dec("77.50")), "realized %s", result.RealizedPL)
	assert.True(t, result.Investment.Quantity.Equal(dec("78.375")))
	assert.True(t, result.Investment.InvestedAmount.Equal(dec("1567.50")))
	// Average cost survives the disposal untouched.
	assert.True(t, result.Investment.PMC().Equal(dec("20")), "average cost %s", result.Investment.PMC())

	investmentID := investment.ID
	rows, _ := f.ledger.Query(context.Background(), testUserID, domain.LedgerFilter{InvestmentID: &investmentID})
	require.Len(t, rows, 3) // buy transfer, sell transfer, realized gain

	sellTransfer := rows[1]
	assert.Equal(t, domain.TypeTransfer, sellTransfer.Type)
	assert.True(t, sellTransfer.Amount.Equal(dec("522.50")), "capital returned %s", sellTransfer.Amount)
	require.NotNil(t, sellTransfer.AssetQuantity)
	assert.True(t, sellTransfer.AssetQuantity.Equal(dec("-26.125")))

	gain := rows[2]
	assert.Equal(t, domain.TypeIncome, gain.Type)
	assert.True(t, gain.Amount.Equal(dec("77.50")))
}

func TestSell_LossIsBookedAsExpense(t *testing.T) {
	f, investment := sellFixture(t)

	result, err := f.service.Sell(context.Background(), SellOrder{
		UserID:        testUserID,
		InvestmentID:  investment.ID,
		Quantity:      dec("10"),
		TotalReceived: dec("150"),
		Fees:          dec("5"),
		Date:          tradeDate(),
	})
	require.NoError(t, err)

	// Cost basis 200, net proceeds 145.
	assert.True(t, result.RealizedPL.Equal(dec("-55")), "realized %s", result.RealizedPL)

	investmentID := investment.ID
	rows, _ := f.ledger.Query(context.Background(), testUserID, domain.LedgerFilter{InvestmentID: &investmentID})
	loss := rows[len(rows)-1]
	assert.Equal(t, domain.TypeExpense, loss.Type)
	assert.True(t, loss.Amount.Equal(dec("55")), "loss amount %s", loss.Amount)
}

func TestSell_InsufficientQuantity(t *testing.T) {
	f, investment := sellFixture(t)

	_, err := f.service.Sell(context.Background(), SellOrder{
		UserID:        testUserID,
		InvestmentID:  investment.ID,
		Quantity:      dec("104.500001"),
		TotalReceived: dec("1"),
		Date:          tradeDate(),
	})
	assert.ErrorIs(t, err, financeErrors.ErrInsufficientQuantity)

	stored, _ := f.repo.GetByID(context.Background(), investment.ID)
	assert.True(t, stored.Quantity.Equal(dec("104.5")), "aborted sell must not touch the position")
}

func TestReverseTransaction_UndoesBuy(t *testing.T) {
	f, investment := sellFixture(t)

	id := investment.ID
	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentID: &id,
		Quantity: dec("10"), TotalPaid: dec("300"), Date: tradeDate(),
	})
	require.NoError(t, err)
	require.True(t, investment.Quantity.Equal(dec("114.5")))

	investmentID := investment.ID
	rows, _ := f.ledger.Query(context.Background(), testUserID, domain.LedgerFilter{InvestmentID: &investmentID})
	buyTransfer := rows[len(rows)-1]
	require.True(t, buyTransfer.Amount.Equal(dec("-300")))

	require.NoError(t, f.service.ReverseTransaction(context.Background(), buyTransfer.ID))

	stored, _ := f.repo.GetByID(context.Background(), investment.ID)
	assert.True(t, stored.Quantity.Equal(dec("104.5")), "quantity %s", stored.Quantity)
	assert.True(t, stored.InvestedAmount.Equal(dec("2090")), "invested %s", stored.InvestedAmount)
	assert.True(t, stored.CurrentValue.Equal(dec("2090")), "value %s", stored.CurrentValue)

	_, err = f.ledger.FindByID(context.Background(), buyTransfer.ID)
	assert.True(t, financeErrors.IsNotFoundError(err), "reversed row must be deleted")
}

func TestReverseTransaction_UndoesSell(t *testing.T) {
	f, investment := sellFixture(t)

	_, err := f.service.Sell(context.Background(), SellOrder{
		UserID:        testUserID,
		InvestmentID:  investment.ID,
		Quantity:      dec("26.125"),
		TotalReceived: dec("522.50"), // sold exactly at cost, no P&L row
		Date:          tradeDate(),
	})
	require.NoError(t, err)

	investmentID := investment.ID
	rows, _ := f.ledger.Query(context.Background(), testUserID, domain.LedgerFilter{InvestmentID: &investmentID})
	sellTransfer := rows[len(rows)-1]
	require.Equal(t, domain.TypeTransfer, sellTransfer.Type)
	require.True(t, sellTransfer.Amount.Equal(dec("522.50")))

	require.NoError(t, f.service.ReverseTransaction(context.Background(), sellTransfer.ID))

	stored, _ := f.repo.GetByID(context.Background(), investment.ID)
	// The negative unit delta comes back out and the cost basis returns.
	assert.True(t, stored.Quantity.Equal(dec("104.5")), "quantity %s", stored.Quantity)
	assert.True(t, stored.InvestedAmount.Equal(dec("2090")), "invested %s", stored.InvestedAmount)
	assert.True(t, stored.CurrentValue.Equal(dec("2090")), "value %s", stored.CurrentValue)
}

func TestReverseTransaction_RejectsUnlinkedRow(t *testing.T) {
	f := newFixture("5000")
	tx := &domain.Transaction{
		ID: uuid.New(), UserID: testUserID, Amount: dec("100"),
		Type: domain.TypeExpense, Date: tradeDate(),
	}
	require.NoError(t, f.ledger.Append(context.Background(), tx))

	err := f.service.ReverseTransaction(context.Background(), tx.ID)
	assert.True(t, financeErrors.IsValidationError(err))
}

func TestUpdateDetails(t *testing.T) {
	f, investment := sellFixture(t)

	value := dec("2500")
	updated, err := f.service.UpdateDetails(context.Background(), investment.ID, UpdatePatch{
		Name:         strPtr("Krugerrands"),
		CurrentValue: &value,
	})
	require.NoError(t, err)
	assert.Equal(t, "Krugerrands", updated.Name)
	assert.True(t, updated.CurrentValue.Equal(dec("2500")))
}

func TestUpdateDetails_AutomatedValueIsMarketDriven(t *testing.T) {
	f := newFixture("5000")
	f.quotes.quotes["VWCE"] = &models.Quote{Ticker: "VWCE", Price: dec("110"), DisplayName: "Vanguard FTSE All-World"}

	investment, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("2"), TotalPaid: dec("220"), Date: tradeDate(),
	})
	require.NoError(t, err)

	value := dec("999")
	_, err = f.service.UpdateDetails(context.Background(), investment.ID, UpdatePatch{CurrentValue: &value})
	assert.True(t, financeErrors.IsValidationError(err))
}

func TestDelete_CascadesToLinkedRows(t *testing.T) {
	f, investment := sellFixture(t)

	_, err := f.service.Sell(context.Background(), SellOrder{
		UserID: testUserID, InvestmentID: investment.ID,
		Quantity: dec("10"), TotalReceived: dec("250"), Date: tradeDate(),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), investment.ID))

	_, err = f.repo.GetByID(context.Background(), investment.ID)
	assert.True(t, financeErrors.IsNotFoundError(err))

	rows, _ := f.ledger.FindByUser(context.Background(), testUserID)
	for _, row := range rows {
		assert.Nil(t, row.InvestmentID, "linked rows must be gone, found %s", row.ID)
	}
}

func TestRefreshPortfolio(t *testing.T) {
	f := newFixture("10000")
	f.quotes.quotes["VWCE"] = &models.Quote{Ticker: "VWCE", Price: dec("120"), DisplayName: "Vanguard FTSE All-World"}

	vwce, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentType: models.TypeETF,
		Ticker: strPtr("VWCE"), IsAutomated: true,
		Quantity: dec("10"), TotalPaid: dec("1100"), Date: tradeDate(),
	})
	require.NoError(t, err)
	_, err = f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, Name: "Dead ticker", InvestmentType: models.TypeStock,
		Ticker: strPtr("GONE"), IsAutomated: true,
		Quantity: dec("5"), TotalPaid: dec("500"), Date: tradeDate(),
	})
	require.NoError(t, err)

	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }

	f.quotes.quotes["VWCE"].Price = dec("130")
	report, err := f.service.RefreshPortfolio(context.Background(), testUserID)
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Failed, "the dead ticker fails without sinking the sweep")

	stored, _ := f.repo.GetByID(context.Background(), vwce.ID)
	assert.True(t, stored.CurrentValue.Equal(dec("1300")), "value %s", stored.CurrentValue)

	// A second sweep inside the window is a no-op.
	callsBefore := f.quotes.calls
	now = now.Add(30 * time.Minute)
	report, err = f.service.RefreshPortfolio(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, callsBefore, f.quotes.calls, "no provider calls inside the window")

	// Once the window elapses the sweep runs again.
	now = now.Add(31 * time.Minute)
	report, err = f.service.RefreshPortfolio(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
}

func TestBuy_RetriesLostUpdateOnce(t *testing.T) {
	f, investment := sellFixture(t)

	// A concurrent refresh bumps the version between our read and write.
	raced := false
	f.repo.UpdateHook = func(i *models.Investment) {
		if raced {
			return
		}
		raced = true
		fresh, _ := f.repo.GetByID(context.Background(), investment.ID)
		fresh.CurrentValue = dec("2200")
		_ = f.repo.Update(context.Background(), fresh)
	}

	id := investment.ID
	updated, err := f.service.Buy(context.Background(), BuyOrder{
		UserID: testUserID, InvestmentID: &id,
		Quantity: dec("10"), TotalPaid: dec("200"), Date: tradeDate(),
	})
	require.NoError(t, err)
	assert.True(t, updated.Quantity.Equal(dec("114.5")))
	assert.True(t, updated.InvestedAmount.Equal(dec("2290")))
}

func TestBuy_ValidatesOrder(t *testing.T) {
	f := newFixture("5000")

	cases := []struct {
		name  string
		order BuyOrder
	}{
		{"zero quantity", BuyOrder{UserID: testUserID, Name: "X", Quantity: dec("0"), TotalPaid: dec("10")}},
		{"negative total", BuyOrder{UserID: testUserID, Name: "X", Quantity: dec("1"), TotalPaid: dec("-1")}},
		{"negative fees", BuyOrder{UserID: testUserID, Name: "X", Quantity: dec("1"), TotalPaid: dec("10"), Fees: dec("-1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.order.Date = tradeDate()
			_, err := f.service.Buy(context.Background(), tc.order)
			assert.True(t, financeErrors.IsValidationError(err))
		})
	}
}
