package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
)

// EventWeight is one entry of the weighted event catalogue.
type EventWeight struct {
	Type   string
	Title  string
	Weight float64
}

// SchedulerParams configures random event generation.
type SchedulerParams struct {
	// Probability of spawning an event per scheduling step.
	Probability float64
	// MaxConcurrent caps the number of simultaneously active events.
	MaxConcurrent int
	Catalogue     []EventWeight
	PriceFloor    decimal.Decimal
}

// Scheduler spawns random market events from a weighted catalogue and
// applies their price and volatility impact exactly once.
type Scheduler struct {
	store  store.Store
	noise  pricing.Noise
	params SchedulerParams
	logger *slog.Logger
}

// NewScheduler creates an event scheduler.
func NewScheduler(st store.Store, noise pricing.Noise, params SchedulerParams, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: st, noise: noise, params: params, logger: logger}
}

var titleQualifiers = []string{"Major", "Significant", "Unexpected"}

// MaybeSpawn rolls the spawn probability and, when it hits and the
// concurrency cap allows, creates and persists a random event. Returns
// nil when no event was spawned.
func (s *Scheduler) MaybeSpawn(ctx context.Context, now time.Time) (*model.MarketEvent, error) {
	if s.noise.Float64() >= s.params.Probability {
		return nil, nil
	}

	active, err := s.store.ListActiveEvents(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	if len(active) >= s.params.MaxConcurrent {
		return nil, nil
	}

	weight, ok := s.pickWeighted()
	if !ok {
		return nil, nil
	}

	symbols, err := s.affectedSymbols(ctx, weight.Type)
	if err != nil {
		return nil, fmt.Errorf("select affected assets: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	event := &model.MarketEvent{
		ID:            uuid.NewString(),
		Type:          weight.Type,
		Title:         fmt.Sprintf("%s - %s", weight.Title, titleQualifiers[s.noise.IntN(len(titleQualifiers))]),
		Description:   fmt.Sprintf("A %s event affecting market conditions", strings.ReplaceAll(weight.Type, "_", " ")),
		ScheduledTime: now,
		DurationHours: 1 + s.noise.IntN(24),
		// Severity bounds: volatility multiplier in [0.8, 2.5),
		// price impact in [-10%, +10%).
		VolatilityMultiplier: decimal.NewFromFloat(0.8 + s.noise.Float64()*1.7),
		AffectedAssets:       symbols,
		PriceImpact:          decimal.NewFromFloat(-0.1 + s.noise.Float64()*0.2),
		CreatedAt:            now,
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.logger.Info("market event spawned",
		"event_id", event.ID,
		"type", event.Type,
		"impact", event.PriceImpact.String(),
		"assets", len(event.AffectedAssets))
	return event, nil
}

// pickWeighted selects a catalogue entry proportionally to its weight.
func (s *Scheduler) pickWeighted() (EventWeight, bool) {
	var total float64
	for _, w := range s.params.Catalogue {
		total += w.Weight
	}
	if total <= 0 {
		return EventWeight{}, false
	}

	r := s.noise.Float64() * total
	var cumulative float64
	for _, w := range s.params.Catalogue {
		cumulative += w.Weight
		if r <= cumulative {
			return w, true
		}
	}
	return s.params.Catalogue[len(s.params.Catalogue)-1], true
}

// affectedSymbols picks 1–5 asset symbols matching the event type's
// affinity: earnings and technology hit stocks, regulatory and black
// swan hit crypto, economic data hits stocks plus forex, everything
// else spreads across the major types.
func (s *Scheduler) affectedSymbols(ctx context.Context, eventType string) ([]string, error) {
	var candidates []model.Asset

	switch eventType {
	case model.EventEarnings, model.EventTechnology:
		assets, err := s.store.ListAssetsByType(ctx, model.AssetStock)
		if err != nil {
			return nil, err
		}
		candidates = assets
	case model.EventRegulatory, model.EventBlackSwan:
		assets, err := s.store.ListAssetsByType(ctx, model.AssetCrypto)
		if err != nil {
			return nil, err
		}
		candidates = assets
	case model.EventEconomicData:
		stocks, err := s.store.ListAssetsByType(ctx, model.AssetStock)
		if err != nil {
			return nil, err
		}
		forex, err := s.store.ListAssetsByType(ctx, model.AssetForex)
		if err != nil {
			return nil, err
		}
		candidates = append(head(stocks, 3), head(forex, 2)...)
	default:
		for _, t := range []model.AssetType{model.AssetStock, model.AssetCrypto, model.AssetForex} {
			assets, err := s.store.ListAssetsByType(ctx, t)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, head(assets, 2)...)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Random subset of 1–5 candidates.
	n := 1 + s.noise.IntN(5)
	if n > len(candidates) {
		n = len(candidates)
	}
	perm := make([]model.Asset, len(candidates))
	copy(perm, candidates)
	for i := len(perm) - 1; i > 0; i-- {
		j := s.noise.IntN(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	symbols := make([]string, 0, n)
	for _, a := range perm[:n] {
		symbols = append(symbols, a.Symbol)
	}
	return symbols, nil
}

func head(assets []model.Asset, n int) []model.Asset {
	if len(assets) < n {
		n = len(assets)
	}
	return assets[:n]
}

// Process applies every unprocessed active event exactly once. Expired
// events fall out of the active set by their time window and are never
// re-applied, processed or not. Returns the number applied.
func (s *Scheduler) Process(ctx context.Context, now time.Time) (int, error) {
	active, err := s.store.ListActiveEvents(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active events: %w", err)
	}

	processed := 0
	for i := range active {
		event := &active[i]
		if event.Processed || event.Expired(now) {
			continue
		}
		if err := s.ApplyImpact(ctx, event); err != nil {
			return processed, err
		}
		if err := s.store.MarkEventProcessed(ctx, event.ID); err != nil {
			return processed, fmt.Errorf("mark event processed: %w", err)
		}
		processed++
	}
	return processed, nil
}

// ApplyImpact shifts each affected asset's price by the event's impact
// fraction and scales its volatility. Prices never drop below the
// configured floor. Also used by the admin impact-simulation endpoint.
func (s *Scheduler) ApplyImpact(ctx context.Context, event *model.MarketEvent) error {
	for _, symbol := range event.AffectedAssets {
		asset, err := s.store.GetAssetBySymbol(ctx, symbol)
		if err != nil {
			return fmt.Errorf("event asset %s: %w", symbol, err)
		}

		newPrice := asset.CurrentPrice.
			Add(asset.CurrentPrice.Mul(event.PriceImpact)).
			Round(pricing.PriceScale)
		if newPrice.LessThan(s.params.PriceFloor) {
			newPrice = s.params.PriceFloor
		}

		newVolatility := asset.Volatility.Mul(event.VolatilityMultiplier)

		if err := s.store.UpdateAssetMarket(ctx, asset.ID, newPrice, &newVolatility, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply event to %s: %w", symbol, err)
		}

		s.logger.Info("event impact applied",
			"event_id", event.ID,
			"symbol", symbol,
			"old_price", asset.CurrentPrice.String(),
			"new_price", newPrice.String())
	}
	return nil
}
