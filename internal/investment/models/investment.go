package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sfranczak/FinanceCore/internal/finance/domain"
)

const (
	TypeStock      = "stock"
	TypeETF        = "etf"
	TypeCrypto     = "cryptocurrency"
	TypeBond       = "bond"
	TypeRealEstate = "real_estate"
	TypeOther      = "other"
)

// Investment is a weighted-average-cost position. Quantity, InvestedAmount
// and CurrentValue are stored aggregates maintained by the position
// service; the linked ledger rows are the history, not the source of these
// fields. A position may reach quantity zero (closed) without being
// deleted; an explicit delete cascades to its linked transactions.
type Investment struct {
	ID             uuid.UUID
	UserID         string
	Name           string
	InvestmentType string
	Ticker         *string
	IsAutomated    bool // market-price-tracked vs manually valued
	Quantity       decimal.Decimal
	InvestedAmount decimal.Decimal // cost basis, never negative
	CurrentValue   decimal.Decimal
	Version        int64 // optimistic concurrency stamp
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PMC is the average cost per held unit. Zero for an empty position.
func (i *Investment) PMC() decimal.Decimal {
	if !i.Quantity.IsPositive() {
		return decimal.Zero
	}
	return i.InvestedAmount.Div(i.Quantity)
}

// PerUnitValue is the current market value per held unit. Zero for an
// empty position.
func (i *Investment) PerUnitValue() decimal.Decimal {
	if !i.Quantity.IsPositive() {
		return decimal.Zero
	}
	return i.CurrentValue.Div(i.Quantity)
}

// UnrealizedGainLoss is current value against cost basis. Realized P&L is
// booked into the ledger at sale time instead.
func (i *Investment) UnrealizedGainLoss() decimal.Decimal {
	return domain.RoundMoney(i.CurrentValue.Sub(i.InvestedAmount))
}

// Quote is a market data lookup result.
type Quote struct {
	Ticker      string
	Price       decimal.Decimal
	DisplayName string
}
