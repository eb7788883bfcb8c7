// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType classifies an asset for volatility and correlation purposes.
type AssetType string

const (
	AssetStock      AssetType = "stock"
	AssetCrypto     AssetType = "crypto"
	AssetForex      AssetType = "forex"
	AssetCommodity  AssetType = "commodity"
	AssetIndex      AssetType = "index"
	AssetBond       AssetType = "bond"
	AssetDerivative AssetType = "derivative"
)

// AssetTypes lists every supported asset type.
var AssetTypes = []AssetType{
	AssetStock, AssetCrypto, AssetForex, AssetCommodity,
	AssetIndex, AssetBond, AssetDerivative,
}

// Order type, side and status enumerations. Status transitions are
// monotonic: pending → {filled, partially_filled → filled, cancelled,
// rejected}; no terminal state re-enters pending.
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"

	SideBuy  = "buy"
	SideSell = "sell"

	OrderStatusPending         = "pending"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
)

// Market phases and economic cycles tracked by the phase state machine.
const (
	PhaseNormal   = "normal"
	PhaseBull     = "bull"
	PhaseBear     = "bear"
	PhaseCrash    = "crash"
	PhaseRecovery = "recovery"

	CycleExpansion   = "expansion"
	CyclePeak        = "peak"
	CycleContraction = "contraction"
	CycleTrough      = "trough"
)

// Event types generated by the scheduler, weighted by likelihood.
const (
	EventEarnings        = "earnings"
	EventEconomicData    = "economic_data"
	EventGeopolitical    = "geopolitical"
	EventTechnology      = "technology"
	EventRegulatory      = "regulatory"
	EventNaturalDisaster = "natural_disaster"
	EventMarketCrash     = "market_crash"
	EventBlackSwan       = "black_swan"
)

// Asset is a tradeable synthetic instrument. CurrentPrice is mutated
// every tick by the price generator and event scheduler; assets are
// never destroyed while referenced by positions or orders.
type Asset struct {
	ID           string          `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	Type         AssetType       `json:"asset_type" db:"asset_type"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"` // always > 0
	Volatility   decimal.Decimal `json:"volatility" db:"volatility"`       // daily
	Beta         decimal.Decimal `json:"beta" db:"beta"`
	UnlockTier   string          `json:"unlock_tier" db:"unlock_tier"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// PriceTick is an immutable OHLCV record owned by an asset.
// History is append-only; ticks are never mutated after creation.
// Volume is synthesized from the magnitude of the move plus a random
// base; a presentation value, not physically meaningful.
type PriceTick struct {
	ID        string          `json:"id" db:"id"`
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Open      decimal.Decimal `json:"open" db:"open_price"`
	High      decimal.Decimal `json:"high" db:"high_price"`
	Low       decimal.Decimal `json:"low" db:"low_price"`
	Close     decimal.Decimal `json:"close" db:"close_price"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// MarketEvent shocks prices and volatility of its affected assets.
// Transitions unprocessed → processed exactly once, and leaves the
// active set after ScheduledTime + DurationHours regardless of the
// processed flag.
type MarketEvent struct {
	ID                   string          `json:"id" db:"id"`
	Type                 string          `json:"event_type" db:"event_type"`
	Title                string          `json:"title" db:"title"`
	Description          string          `json:"description" db:"description"`
	ScheduledTime        time.Time       `json:"scheduled_time" db:"scheduled_time"`
	DurationHours        int             `json:"duration_hours" db:"duration_hours"`
	VolatilityMultiplier decimal.Decimal `json:"volatility_multiplier" db:"volatility_multiplier"`
	AffectedAssets       []string        `json:"affected_assets" db:"affected_assets"` // symbols
	PriceImpact          decimal.Decimal `json:"price_impact" db:"price_impact"`       // signed fraction
	Processed            bool            `json:"processed" db:"processed"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// EndTime returns the instant the event expires from the active set.
func (e *MarketEvent) EndTime() time.Time {
	return e.ScheduledTime.Add(time.Duration(e.DurationHours) * time.Hour)
}

// Expired reports whether the event has passed its end time.
func (e *MarketEvent) Expired(now time.Time) bool {
	return now.After(e.EndTime())
}

// Order is a player's instruction to trade an asset. Price is required
// for limit and stop_limit orders, StopPrice for stop and stop_limit;
// a zero decimal means the field was not supplied.
type Order struct {
	ID             string          `json:"id" db:"id"`
	PlayerID       string          `json:"player_id" db:"player_id"`
	AssetID        string          `json:"asset_id" db:"asset_id"`
	Type           string          `json:"order_type" db:"order_type"`
	Side           string          `json:"side" db:"side"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"` // > 0
	Price          decimal.Decimal `json:"price" db:"price"`
	StopPrice      decimal.Decimal `json:"stop_price" db:"stop_price"`
	Status         string          `json:"status" db:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity" db:"filled_quantity"` // ≤ Quantity
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	Commission     decimal.Decimal `json:"commission" db:"commission"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ExecutedAt     time.Time       `json:"executed_at" db:"executed_at"`
}

// IsOpen reports whether the order may still receive fills.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Position is a player's holding in one asset, keyed by
// (PlayerID, AssetID). Created on the first buy fill, updated on every
// subsequent fill, and deleted when quantity returns to zero.
// RealizedPnL is cumulative and never reset.
type Position struct {
	PlayerID         string          `json:"player_id" db:"player_id"`
	AssetID          string          `json:"asset_id" db:"asset_id"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"` // ≥ 0
	AvgPurchasePrice decimal.Decimal `json:"avg_purchase_price" db:"avg_purchase_price"`
	TotalInvested    decimal.Decimal `json:"total_invested" db:"total_invested"`
	CurrentValue     decimal.Decimal `json:"current_value" db:"current_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	FirstPurchase    time.Time       `json:"first_purchase" db:"first_purchase"`
	LastUpdated      time.Time       `json:"last_updated" db:"last_updated"`
}

// Player is a game account. PortfolioValue = CashBalance + Σ position
// current values; WealthTier is a monotonic function of PortfolioValue
// over the configured threshold table.
type Player struct {
	ID              string          `json:"id" db:"id"`
	Username        string          `json:"username" db:"username"`
	CashBalance     decimal.Decimal `json:"cash_balance" db:"cash_balance"` // ≥ 0 post-execution
	PortfolioValue  decimal.Decimal `json:"portfolio_value" db:"portfolio_value"`
	WealthTier      string          `json:"wealth_tier" db:"wealth_tier"`
	StartingCapital decimal.Decimal `json:"starting_capital" db:"starting_capital"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// MarketState is the engine-scoped view of global market conditions.
// Its lifecycle is bound to the coordinator's running lifetime.
type MarketState struct {
	Phase                string          `json:"phase"`
	VolatilityMultiplier decimal.Decimal `json:"volatility_multiplier"`
	EconomicCycle        string          `json:"economic_cycle"`
	LastUpdate           time.Time       `json:"last_update"`
	TickCount            uint64          `json:"tick_count"`
	Calculations         uint64          `json:"total_calculations"`
}

// TickSummary reports the outcome of one simulation tick. Non-fatal
// per-step errors are collected rather than aborting the tick.
type TickSummary struct {
	Timestamp         time.Time `json:"timestamp"`
	PricesUpdated     int       `json:"prices_updated"`
	OrdersExecuted    int       `json:"orders_executed"`
	PortfoliosUpdated int       `json:"portfolios_updated"`
	EventsProcessed   int       `json:"events_processed"`
	Errors            []string  `json:"errors"`
}
