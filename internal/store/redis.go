package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Only hot entities are
// cached: assets (read every tick) and players (read on every fill and
// portfolio pass).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Assets (read-through) ---

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.cacheAsset(ctx, a)
	return nil
}

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(id)).Bytes()
	if err == nil {
		var a model.Asset
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAsset(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error) {
	// Try cache via symbol→assetID mapping.
	assetID, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetAsset(ctx, assetID)
	}

	a, err := s.primary.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// Cache both the asset and the symbol→ID mapping.
	s.cacheAsset(ctx, a)
	s.rdb.Set(ctx, symbolKey(symbol), a.ID, s.ttl)
	return a, nil
}

func (s *CachedStore) UpdateAssetMarket(ctx context.Context, id string, price decimal.Decimal, volatility *decimal.Decimal, at time.Time) error {
	if err := s.primary.UpdateAssetMarket(ctx, id, price, volatility, at); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, assetKey(id))
	return nil
}

// --- Players (read-through) ---

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.cachePlayer(ctx, p)
	return nil
}

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	data, err := s.rdb.Get(ctx, playerKey(id)).Bytes()
	if err == nil {
		var p model.Player
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePlayer(ctx, p)
	return p, nil
}

func (s *CachedStore) UpdatePlayerValuation(ctx context.Context, id string, portfolioValue decimal.Decimal) error {
	if err := s.primary.UpdatePlayerValuation(ctx, id, portfolioValue); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerKey(id))
	return nil
}

func (s *CachedStore) UpdatePlayerTier(ctx context.Context, id, tier string) error {
	if err := s.primary.UpdatePlayerTier(ctx, id, tier); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerKey(id))
	return nil
}

// --- Fill (invalidates player cache) ---

func (s *CachedStore) ApplyFill(ctx context.Context, app FillApplication) error {
	if err := s.primary.ApplyFill(ctx, app); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerKey(app.Player.ID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListActiveAssets(ctx context.Context) ([]model.Asset, error) {
	return s.primary.ListActiveAssets(ctx)
}

func (s *CachedStore) ListAssetsByType(ctx context.Context, t model.AssetType) ([]model.Asset, error) {
	return s.primary.ListAssetsByType(ctx, t)
}

func (s *CachedStore) ListAvailableAssets(ctx context.Context, tiers []string) ([]model.Asset, error) {
	return s.primary.ListAvailableAssets(ctx, tiers)
}

func (s *CachedStore) InsertPriceTick(ctx context.Context, tick *model.PriceTick) error {
	return s.primary.InsertPriceTick(ctx, tick)
}

func (s *CachedStore) ListPriceTicks(ctx context.Context, assetID string, limit int) ([]model.PriceTick, error) {
	return s.primary.ListPriceTicks(ctx, assetID, limit)
}

func (s *CachedStore) LatestTickTime(ctx context.Context) (time.Time, int64, error) {
	return s.primary.LatestTickTime(ctx)
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.CreateOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListOpenOrders(ctx)
}

func (s *CachedStore) ListOrdersByPlayer(ctx context.Context, playerID string) ([]model.Order, error) {
	return s.primary.ListOrdersByPlayer(ctx, playerID)
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id, status string) error {
	return s.primary.UpdateOrderStatus(ctx, id, status)
}

func (s *CachedStore) GetPosition(ctx context.Context, playerID, assetID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, playerID, assetID)
}

func (s *CachedStore) ListPositionsByPlayer(ctx context.Context, playerID string) ([]model.Position, error) {
	return s.primary.ListPositionsByPlayer(ctx, playerID)
}

func (s *CachedStore) ListPositionsByAsset(ctx context.Context, assetID string) ([]model.Position, error) {
	return s.primary.ListPositionsByAsset(ctx, assetID)
}

func (s *CachedStore) UpdatePositionValuation(ctx context.Context, key PositionKey, currentValue, unrealizedPnL decimal.Decimal, at time.Time) error {
	return s.primary.UpdatePositionValuation(ctx, key, currentValue, unrealizedPnL, at)
}

func (s *CachedStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx)
}

func (s *CachedStore) CreateEvent(ctx context.Context, e *model.MarketEvent) error {
	return s.primary.CreateEvent(ctx, e)
}

func (s *CachedStore) ListActiveEvents(ctx context.Context, now time.Time) ([]model.MarketEvent, error) {
	return s.primary.ListActiveEvents(ctx, now)
}

func (s *CachedStore) MarkEventProcessed(ctx context.Context, id string) error {
	return s.primary.MarkEventProcessed(ctx, id)
}

func (s *CachedStore) CountAssets(ctx context.Context) (int64, int64, error) {
	return s.primary.CountAssets(ctx)
}

func (s *CachedStore) CountPlayers(ctx context.Context) (int64, error) {
	return s.primary.CountPlayers(ctx)
}

func (s *CachedStore) CountOrdersByStatus(ctx context.Context) (map[string]int64, error) {
	return s.primary.CountOrdersByStatus(ctx)
}

func (s *CachedStore) GetPortfolioStats(ctx context.Context) (PortfolioStats, error) {
	return s.primary.GetPortfolioStats(ctx)
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return s.primary.Ping(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAsset(ctx context.Context, a *model.Asset) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, assetKey(a.ID), data, s.ttl)
	}
}

func (s *CachedStore) cachePlayer(ctx context.Context, p *model.Player) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, playerKey(p.ID), data, s.ttl)
	}
}

func assetKey(id string) string   { return fmt.Sprintf("asset:%s", id) }
func symbolKey(sym string) string { return fmt.Sprintf("symbol:%s", sym) }
func playerKey(id string) string  { return fmt.Sprintf("player:%s", id) }
