// Package config loads engine configuration from a YAML file with
// environment-variable overrides. Tables (volatility, correlation,
// wealth tiers, event weights) are configuration data, not logic:
// components read them, they never hard-code values.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/candlz/market-engine/internal/model"
)

// Decimal embeds decimal.Decimal with YAML codec support. yaml.v3 does
// not consult encoding.TextUnmarshaler, so the wrapper parses the
// scalar node itself.
type Decimal struct {
	decimal.Decimal
}

// UnmarshalYAML parses a YAML scalar (quoted or bare) as a decimal.
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = v
	return nil
}

// MarshalYAML emits the decimal as a string to avoid float rounding.
func (d Decimal) MarshalYAML() (any, error) {
	return d.String(), nil
}

func dec(f float64) Decimal {
	return Decimal{decimal.NewFromFloat(f)}
}

// TierThreshold maps a wealth tier name to its minimum portfolio value.
type TierThreshold struct {
	Tier      string  `yaml:"tier"`
	Threshold Decimal `yaml:"threshold"`
}

// EventWeight is one entry of the weighted event catalogue.
type EventWeight struct {
	Type   string  `yaml:"type"`
	Title  string  `yaml:"title"`
	Weight float64 `yaml:"weight"`
}

// Config holds every externally supplied setting the engine consumes.
type Config struct {
	Engine struct {
		TickInterval   time.Duration `yaml:"tick_interval"`
		CommissionRate Decimal       `yaml:"commission_rate"`
		Seed           uint64        `yaml:"seed"` // 0 → time-derived
	} `yaml:"engine"`

	Pricing struct {
		// Per-asset-type base daily volatility.
		BaseVolatilities map[model.AssetType]Decimal `yaml:"base_volatilities"`
		// Symmetric type×type correlation table; missing pairs fall
		// back to DefaultCorrelation.
		Correlations       map[model.AssetType]map[model.AssetType]float64 `yaml:"correlations"`
		DefaultCorrelation float64                                         `yaml:"default_correlation"`
		// Per-step clamp bounds as multiples of the prior price.
		ClampMin Decimal `yaml:"clamp_min"`
		ClampMax Decimal `yaml:"clamp_max"`
		// Wider bounds used in bulk/batch regeneration mode.
		BulkClampMin Decimal `yaml:"bulk_clamp_min"`
		BulkClampMax Decimal `yaml:"bulk_clamp_max"`
		PriceFloor   Decimal `yaml:"price_floor"`
	} `yaml:"pricing"`

	Events struct {
		ProbabilityPerDay float64       `yaml:"probability_per_day"`
		MaxConcurrent     int           `yaml:"max_concurrent"`
		Catalogue         []EventWeight `yaml:"catalogue"`
	} `yaml:"events"`

	WealthTiers []TierThreshold `yaml:"wealth_tiers"` // sorted ascending by threshold

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// EventTickProbability scales the configured per-day event probability
// down to one tick of the engine's interval, capped at 1 for intervals
// longer than a day.
func (c *Config) EventTickProbability() float64 {
	p := c.Events.ProbabilityPerDay * c.Engine.TickInterval.Seconds() / (24 * 60 * 60)
	if p > 1 {
		p = 1
	}
	return p
}

// Load reads and validates a YAML config file, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns a fully populated configuration matching the game's
// baseline parameters. Tests and env-only deployments start from this.
func Default() *Config {
	cfg := &Config{}
	cfg.Engine.TickInterval = time.Second
	cfg.Engine.CommissionRate = dec(0.001) // 0.1%

	cfg.Pricing.BaseVolatilities = map[model.AssetType]Decimal{
		model.AssetStock:      dec(0.02),
		model.AssetCrypto:     dec(0.05),
		model.AssetForex:      dec(0.01),
		model.AssetCommodity:  dec(0.025),
		model.AssetIndex:      dec(0.015),
		model.AssetBond:       dec(0.005),
		model.AssetDerivative: dec(0.08),
	}
	// Correlation of each type to the reference (stock) market return.
	// Only the pairs the game defines are listed; everything else uses
	// DefaultCorrelation rather than guessed values.
	cfg.Pricing.Correlations = map[model.AssetType]map[model.AssetType]float64{
		model.AssetStock: {
			model.AssetStock: 0.7, model.AssetCrypto: 0.3, model.AssetForex: 0.1,
			model.AssetCommodity: 0.2, model.AssetIndex: 0.8, model.AssetBond: -0.3,
			model.AssetDerivative: 0.5,
		},
		model.AssetCrypto: {
			model.AssetStock: 0.3, model.AssetCrypto: 0.8, model.AssetForex: 0.2,
			model.AssetCommodity: 0.1, model.AssetIndex: 0.2, model.AssetBond: -0.1,
			model.AssetDerivative: 0.4,
		},
		model.AssetForex: {
			model.AssetStock: 0.1, model.AssetCrypto: 0.2, model.AssetForex: 0.6,
			model.AssetCommodity: 0.3, model.AssetIndex: 0.1, model.AssetBond: 0.4,
			model.AssetDerivative: 0.3,
		},
	}
	cfg.Pricing.DefaultCorrelation = 0.1
	cfg.Pricing.ClampMin = dec(0.5)
	cfg.Pricing.ClampMax = dec(2.0)
	cfg.Pricing.BulkClampMin = dec(0.1)
	cfg.Pricing.BulkClampMax = dec(10.0)
	cfg.Pricing.PriceFloor = dec(0.01)

	cfg.Events.ProbabilityPerDay = 0.1
	cfg.Events.MaxConcurrent = 3
	cfg.Events.Catalogue = []EventWeight{
		{Type: model.EventEarnings, Title: "Earnings Surprise", Weight: 0.3},
		{Type: model.EventEconomicData, Title: "Economic Data Release", Weight: 0.2},
		{Type: model.EventGeopolitical, Title: "Geopolitical Tension", Weight: 0.15},
		{Type: model.EventTechnology, Title: "Tech Breakthrough", Weight: 0.1},
		{Type: model.EventRegulatory, Title: "Regulatory Change", Weight: 0.1},
		{Type: model.EventNaturalDisaster, Title: "Natural Disaster", Weight: 0.05},
		{Type: model.EventMarketCrash, Title: "Market Flash Crash", Weight: 0.02},
		{Type: model.EventBlackSwan, Title: "Black Swan Event", Weight: 0.01},
	}

	cfg.WealthTiers = []TierThreshold{
		{Tier: "retail_trader", Threshold: Decimal{decimal.NewFromInt(1_000)}},
		{Tier: "active_trader", Threshold: Decimal{decimal.NewFromInt(10_000)}},
		{Tier: "small_fund", Threshold: Decimal{decimal.NewFromInt(100_000)}},
		{Tier: "hedge_fund", Threshold: Decimal{decimal.NewFromInt(1_000_000)}},
		{Tier: "institution", Threshold: Decimal{decimal.NewFromInt(10_000_000)}},
		{Tier: "billionaire", Threshold: Decimal{decimal.NewFromInt(100_000_000)}},
		{Tier: "market_maker", Threshold: Decimal{decimal.NewFromInt(1_000_000_000)}},
		{Tier: "market_god", Threshold: Decimal{decimal.NewFromInt(100_000_000_000)}},
	}

	cfg.Logging.Level = "info"
	return cfg
}

// Validate checks configuration invariants the engine relies on.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Engine.CommissionRate.IsNegative() {
		return fmt.Errorf("commission rate must be non-negative")
	}
	if len(c.Pricing.BaseVolatilities) == 0 {
		return fmt.Errorf("at least one base volatility is required")
	}
	for t, v := range c.Pricing.BaseVolatilities {
		if v.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("base volatility for %s must be positive", t)
		}
	}
	if c.Pricing.ClampMin.LessThanOrEqual(decimal.Zero) ||
		c.Pricing.ClampMax.LessThanOrEqual(c.Pricing.ClampMin.Decimal) {
		return fmt.Errorf("clamp bounds must satisfy 0 < min < max")
	}
	if c.Pricing.BulkClampMin.LessThanOrEqual(decimal.Zero) ||
		c.Pricing.BulkClampMax.LessThanOrEqual(c.Pricing.BulkClampMin.Decimal) {
		return fmt.Errorf("bulk clamp bounds must satisfy 0 < min < max")
	}
	if c.Pricing.PriceFloor.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price floor must be positive")
	}
	if c.Events.ProbabilityPerDay < 0 || c.Events.ProbabilityPerDay > 1 {
		return fmt.Errorf("event probability per day must be in [0, 1]")
	}
	if c.Events.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent events must be non-negative")
	}
	if len(c.WealthTiers) == 0 {
		return fmt.Errorf("at least one wealth tier is required")
	}
	if !sort.SliceIsSorted(c.WealthTiers, func(i, j int) bool {
		return c.WealthTiers[i].Threshold.LessThan(c.WealthTiers[j].Threshold.Decimal)
	}) {
		return fmt.Errorf("wealth tiers must be sorted ascending by threshold")
	}
	return nil
}

// ApplyEnv applies environment overrides for deploy-time knobs.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("MARKET_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.TickInterval = d
		}
	}
	if v := os.Getenv("MARKET_COMMISSION_RATE"); v != "" {
		if r, err := decimal.NewFromString(v); err == nil {
			cfg.Engine.CommissionRate = Decimal{r}
		}
	}
	if v := os.Getenv("MARKET_SEED"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.Seed = s
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
