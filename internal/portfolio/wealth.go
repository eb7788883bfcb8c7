package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/store"
)

// Tier maps a wealth tier name to its minimum portfolio value.
type Tier struct {
	Name      string
	Threshold decimal.Decimal
}

// Classifier assigns wealth tiers from an ascending threshold table.
// A player's tier is the highest tier whose threshold their portfolio
// value meets; below the first threshold the first tier applies.
type Classifier struct {
	store  store.Store
	tiers  []Tier // ascending by threshold
	logger *slog.Logger
}

// NewClassifier creates a classifier over an ascending tier table.
func NewClassifier(st store.Store, tiers []Tier, logger *slog.Logger) *Classifier {
	return &Classifier{store: st, tiers: tiers, logger: logger}
}

// Classify returns the tier name for a portfolio value.
func (c *Classifier) Classify(value decimal.Decimal) string {
	tier := c.tiers[0].Name
	for _, t := range c.tiers {
		if value.GreaterThanOrEqual(t.Threshold) {
			tier = t.Name
		}
	}
	return tier
}

// TierNames returns tier names up to and including the given tier,
// in ascending order. Used to resolve which assets a player has
// unlocked.
func (c *Classifier) TierNames(upTo string) []string {
	names := make([]string, 0, len(c.tiers))
	for _, t := range c.tiers {
		names = append(names, t.Name)
		if t.Name == upTo {
			break
		}
	}
	return names
}

// UpdateTier reclassifies a player and persists the tier only when it
// changed.
func (c *Classifier) UpdateTier(ctx context.Context, p *model.Player, portfolioValue decimal.Decimal) error {
	tier := c.Classify(portfolioValue)
	if tier == p.WealthTier {
		return nil
	}

	if err := c.store.UpdatePlayerTier(ctx, p.ID, tier); err != nil {
		return fmt.Errorf("update player %s tier: %w", p.ID, err)
	}

	c.logger.Info("wealth tier changed",
		"player_id", p.ID,
		"from", p.WealthTier,
		"to", tier,
		"portfolio_value", portfolioValue.String())
	p.WealthTier = tier
	return nil
}
