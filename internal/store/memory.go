package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	assets    map[string]*model.Asset
	ticks     map[string][]model.PriceTick // assetID → append-only
	orders    map[string]*model.Order
	positions map[PositionKey]*model.Position
	players   map[string]*model.Player
	events    map[string]*model.MarketEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:    make(map[string]*model.Asset),
		ticks:     make(map[string][]model.PriceTick),
		orders:    make(map[string]*model.Order),
		positions: make(map[PositionKey]*model.Position),
		players:   make(map[string]*model.Player),
		events:    make(map[string]*model.MarketEvent),
	}
}

// --- Assets ---

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assets {
		if existing.Symbol == a.Symbol {
			return fmt.Errorf("asset %s already exists", a.Symbol)
		}
	}
	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAssetBySymbol(_ context.Context, symbol string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assets {
		if a.Symbol == symbol {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("asset symbol %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) ListActiveAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var assets []model.Asset
	for _, a := range s.assets {
		if a.IsActive {
			assets = append(assets, *a)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (s *MemoryStore) ListAssetsByType(_ context.Context, t model.AssetType) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var assets []model.Asset
	for _, a := range s.assets {
		if a.IsActive && a.Type == t {
			assets = append(assets, *a)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (s *MemoryStore) ListAvailableAssets(_ context.Context, tiers []string) ([]model.Asset, error) {
	allowed := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		allowed[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var assets []model.Asset
	for _, a := range s.assets {
		if a.IsActive && allowed[a.UnlockTier] {
			assets = append(assets, *a)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (s *MemoryStore) UpdateAssetMarket(_ context.Context, id string, price decimal.Decimal, volatility *decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	a.CurrentPrice = price
	if volatility != nil {
		a.Volatility = *volatility
	}
	a.UpdatedAt = at
	return nil
}

// --- Price ticks ---

func (s *MemoryStore) InsertPriceTick(_ context.Context, tick *model.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks[tick.AssetID] = append(s.ticks[tick.AssetID], *tick)
	return nil
}

func (s *MemoryStore) ListPriceTicks(_ context.Context, assetID string, limit int) ([]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ticks[assetID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// Most recent first.
	result := make([]model.PriceTick, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		result = append(result, all[i])
	}
	return result, nil
}

func (s *MemoryStore) LatestTickTime(_ context.Context) (time.Time, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	var count int64
	for _, ticks := range s.ticks {
		count += int64(len(ticks))
		for _, t := range ticks {
			if t.Timestamp.After(latest) {
				latest = t.Timestamp
			}
		}
	}
	return latest, count, nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.IsOpen() {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) ListOrdersByPlayer(_ context.Context, playerID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.PlayerID == playerID {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.Status = status
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, playerID, assetID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[PositionKey{playerID, assetID}]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", playerID, assetID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByPlayer(_ context.Context, playerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.PlayerID == playerID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].AssetID < positions[j].AssetID })
	return positions, nil
}

func (s *MemoryStore) ListPositionsByAsset(_ context.Context, assetID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.AssetID == assetID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].PlayerID < positions[j].PlayerID })
	return positions, nil
}

func (s *MemoryStore) UpdatePositionValuation(_ context.Context, key PositionKey, currentValue, unrealizedPnL decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return fmt.Errorf("position %s/%s: %w", key.PlayerID, key.AssetID, ErrNotFound)
	}
	p.CurrentValue = currentValue
	p.UnrealizedPnL = unrealizedPnL
	p.LastUpdated = at
	return nil
}

// --- Players ---

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.players {
		if existing.Username == p.Username {
			return fmt.Errorf("player %s already exists", p.Username)
		}
	}
	cp := *p
	s.players[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Username < players[j].Username })
	return players, nil
}

func (s *MemoryStore) UpdatePlayerValuation(_ context.Context, id string, portfolioValue decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	p.PortfolioValue = portfolioValue
	return nil
}

func (s *MemoryStore) UpdatePlayerTier(_ context.Context, id, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	p.WealthTier = tier
	return nil
}

// --- Market events ---

func (s *MemoryStore) CreateEvent(_ context.Context, e *model.MarketEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.AffectedAssets = append([]string(nil), e.AffectedAssets...)
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActiveEvents(_ context.Context, now time.Time) ([]model.MarketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.MarketEvent
	for _, e := range s.events {
		if !e.ScheduledTime.After(now) && !e.Expired(now) {
			cp := *e
			cp.AffectedAssets = append([]string(nil), e.AffectedAssets...)
			events = append(events, cp)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ScheduledTime.Before(events[j].ScheduledTime) })
	return events, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.Processed = true
	return nil
}

// --- Atomic fill ---

// ApplyFill applies order, cash and position mutations under a single
// lock so the whole fill is observed atomically. The stored order must
// still be open; a fill that lost a race returns ErrOrderClosed.
func (s *MemoryStore) ApplyFill(_ context.Context, app FillApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[app.Order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", app.Order.ID, ErrNotFound)
	}
	if !existing.IsOpen() {
		return fmt.Errorf("order %s is %s: %w", app.Order.ID, existing.Status, ErrOrderClosed)
	}
	if _, ok := s.players[app.Player.ID]; !ok {
		return fmt.Errorf("player %s: %w", app.Player.ID, ErrNotFound)
	}

	ocp := *app.Order
	s.orders[app.Order.ID] = &ocp
	pcp := *app.Player
	s.players[app.Player.ID] = &pcp

	if app.RemovePosition {
		delete(s.positions, app.PositionKey)
	} else if app.Position != nil {
		cp := *app.Position
		s.positions[PositionKey{cp.PlayerID, cp.AssetID}] = &cp
	}
	return nil
}

// --- Analytics / health ---

func (s *MemoryStore) CountAssets(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, active int64
	for _, a := range s.assets {
		total++
		if a.IsActive {
			active++
		}
	}
	return total, active, nil
}

func (s *MemoryStore) CountPlayers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.players)), nil
}

func (s *MemoryStore) CountOrdersByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) GetPortfolioStats(_ context.Context) (PortfolioStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats PortfolioStats
	if len(s.players) == 0 {
		return stats, nil
	}

	first := true
	for _, p := range s.players {
		v := p.PortfolioValue
		stats.Total = stats.Total.Add(v)
		if first || v.GreaterThan(stats.Max) {
			stats.Max = v
		}
		if first || v.LessThan(stats.Min) {
			stats.Min = v
		}
		first = false
	}
	stats.Average = stats.Total.Div(decimal.NewFromInt(int64(len(s.players))))
	return stats, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
