// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
// Implementations wrap it with context; callers branch with errors.Is.
var ErrNotFound = errors.New("store: not found")

// ErrOrderClosed is returned by ApplyFill when the stored order is no
// longer open. The open re-check happens inside the store's atomic
// step, so two racing fills of the same order cannot both land.
var ErrOrderClosed = errors.New("store: order not open")

// FillApplication is the atomic unit written when an order fill
// executes: order, cash and position mutations commit together or not
// at all. RemovePosition deletes the position row (quantity reached
// zero) instead of upserting it.
type FillApplication struct {
	Order          *model.Order
	Player         *model.Player
	Position       *model.Position // nil when RemovePosition is set
	RemovePosition bool
	PositionKey    PositionKey // used when RemovePosition is set
}

// PositionKey identifies a position by its unique (player, asset) pair.
type PositionKey struct {
	PlayerID string
	AssetID  string
}

// PortfolioStats aggregates player portfolio values for analytics.
type PortfolioStats struct {
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
	Max     decimal.Decimal `json:"max"`
	Min     decimal.Decimal `json:"min"`
}

// Store is the persistence interface. All calls provide transactional
// all-or-nothing semantics per invocation and read-after-write
// consistency within one transaction.
type Store interface {
	// --- Assets ---

	CreateAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error)
	ListActiveAssets(ctx context.Context) ([]model.Asset, error)
	ListAssetsByType(ctx context.Context, t model.AssetType) ([]model.Asset, error)
	// ListAvailableAssets returns active assets whose unlock tier is
	// within the given ordered prefix of tier names.
	ListAvailableAssets(ctx context.Context, tiers []string) ([]model.Asset, error)
	// UpdateAssetMarket writes a new price (and optionally volatility)
	// for one asset. Volatility is left unchanged when nil.
	UpdateAssetMarket(ctx context.Context, id string, price decimal.Decimal, volatility *decimal.Decimal, at time.Time) error

	// --- Price ticks (append-only) ---

	InsertPriceTick(ctx context.Context, tick *model.PriceTick) error
	ListPriceTicks(ctx context.Context, assetID string, limit int) ([]model.PriceTick, error)
	LatestTickTime(ctx context.Context) (time.Time, int64, error)

	// --- Orders ---

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOpenOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByPlayer(ctx context.Context, playerID string) ([]model.Order, error)
	// UpdateOrderStatus moves an order to a terminal or partial state
	// without a fill (cancel, reject).
	UpdateOrderStatus(ctx context.Context, id, status string) error

	// --- Positions ---

	GetPosition(ctx context.Context, playerID, assetID string) (*model.Position, error)
	ListPositionsByPlayer(ctx context.Context, playerID string) ([]model.Position, error)
	ListPositionsByAsset(ctx context.Context, assetID string) ([]model.Position, error)
	UpdatePositionValuation(ctx context.Context, key PositionKey, currentValue, unrealizedPnL decimal.Decimal, at time.Time) error

	// --- Players ---

	CreatePlayer(ctx context.Context, p *model.Player) error
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	ListPlayers(ctx context.Context) ([]model.Player, error)
	UpdatePlayerValuation(ctx context.Context, id string, portfolioValue decimal.Decimal) error
	UpdatePlayerTier(ctx context.Context, id, tier string) error

	// --- Market events ---

	CreateEvent(ctx context.Context, e *model.MarketEvent) error
	// ListActiveEvents returns events whose window contains now.
	ListActiveEvents(ctx context.Context, now time.Time) ([]model.MarketEvent, error)
	MarkEventProcessed(ctx context.Context, id string) error

	// --- Atomic fill ---

	// ApplyFill commits an order fill as one transaction.
	ApplyFill(ctx context.Context, app FillApplication) error

	// --- Analytics / health ---

	CountAssets(ctx context.Context) (total, active int64, err error)
	CountPlayers(ctx context.Context) (int64, error)
	CountOrdersByStatus(ctx context.Context) (map[string]int64, error)
	GetPortfolioStats(ctx context.Context) (PortfolioStats, error)
	Ping(ctx context.Context) error
}
