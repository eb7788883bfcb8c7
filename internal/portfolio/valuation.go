// Package portfolio revalues positions and player wealth against
// current market prices. Valuation is idempotent: repeating it without
// a price change reproduces identical values.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/store"
)

// Valuer recomputes position and portfolio values from market prices.
type Valuer struct {
	store  store.Store
	logger *slog.Logger
}

// NewValuer creates a portfolio valuer.
func NewValuer(st store.Store, logger *slog.Logger) *Valuer {
	return &Valuer{store: st, logger: logger}
}

// RevaluePlayer recomputes every position of one player at current
// prices and writes the player's total portfolio value: cash plus the
// sum of position values. Returns the new total. The prices map is a
// per-call cache; pass nil to fetch assets on demand.
func (v *Valuer) RevaluePlayer(ctx context.Context, player *model.Player, prices map[string]decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}

	positions, err := v.store.ListPositionsByPlayer(ctx, player.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list positions: %w", err)
	}

	total := player.CashBalance
	for i := range positions {
		p := &positions[i]

		price, ok := prices[p.AssetID]
		if !ok {
			asset, err := v.store.GetAsset(ctx, p.AssetID)
			if err != nil {
				return decimal.Zero, fmt.Errorf("position asset %s: %w", p.AssetID, err)
			}
			price = asset.CurrentPrice
			prices[p.AssetID] = price
		}

		currentValue := p.Quantity.Mul(price)
		unrealized := currentValue.Sub(p.TotalInvested)
		total = total.Add(currentValue)

		// Skip the write when nothing moved.
		if currentValue.Equal(p.CurrentValue) && unrealized.Equal(p.UnrealizedPnL) {
			continue
		}

		key := store.PositionKey{PlayerID: p.PlayerID, AssetID: p.AssetID}
		if err := v.store.UpdatePositionValuation(ctx, key, currentValue, unrealized, now); err != nil {
			return decimal.Zero, fmt.Errorf("update position %s/%s: %w", p.PlayerID, p.AssetID, err)
		}
	}

	if !total.Equal(player.PortfolioValue) {
		if err := v.store.UpdatePlayerValuation(ctx, player.ID, total); err != nil {
			return decimal.Zero, fmt.Errorf("update player %s valuation: %w", player.ID, err)
		}
	}
	return total, nil
}

// RevalueHolders revalues every player holding the given asset. Used
// by the admin price override so holders see the new price without
// waiting for the next tick.
func (v *Valuer) RevalueHolders(ctx context.Context, assetID string, now time.Time) (int, error) {
	positions, err := v.store.ListPositionsByAsset(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("list holders: %w", err)
	}

	prices := make(map[string]decimal.Decimal)
	updated := 0
	for i := range positions {
		player, err := v.store.GetPlayer(ctx, positions[i].PlayerID)
		if err != nil {
			return updated, fmt.Errorf("holder %s: %w", positions[i].PlayerID, err)
		}
		if _, err := v.RevaluePlayer(ctx, player, prices, now); err != nil {
			return updated, fmt.Errorf("revalue holder %s: %w", player.ID, err)
		}
		updated++
	}
	return updated, nil
}

// RevalueAll revalues every player. A failing player is skipped and
// its error collected; the sweep continues. Returns the number of
// players whose valuation succeeded.
func (v *Valuer) RevalueAll(ctx context.Context, classifier *Classifier, now time.Time) (int, []error) {
	players, err := v.store.ListPlayers(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("list players: %w", err)}
	}

	prices := make(map[string]decimal.Decimal)
	updated := 0
	var errs []error
	for i := range players {
		p := &players[i]
		total, err := v.RevaluePlayer(ctx, p, prices, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("revalue player %s: %w", p.ID, err))
			continue
		}
		updated++

		if classifier != nil {
			if err := classifier.UpdateTier(ctx, p, total); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return updated, errs
}
