// Package pricing implements synthetic price generation: a
// geometric-Brownian-motion generator driven by per-asset trend state,
// and a correlation aggregator that blends asset-specific returns with
// a shared market return.
//
// Returns are computed in float64 (transcendental math), then applied
// to decimal prices and rounded immediately. Money never lives in
// float64.
package pricing

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
)

// PriceScale is the number of decimal places prices are rounded to.
const PriceScale = 8

// Trend is per-asset persistent drift state. Direction is -1, 0 or +1;
// Strength is the daily drift magnitude; Remaining counts steps until
// a fresh trend is generated.
type Trend struct {
	Direction int     `json:"direction"`
	Strength  float64 `json:"strength"`
	Remaining int     `json:"remaining"`
}

// Params bounds the generator's output. Clamp bounds are multiples of
// the prior price; the bulk pair applies in batch regeneration mode.
type Params struct {
	ClampMin     decimal.Decimal
	ClampMax     decimal.Decimal
	BulkClampMin decimal.Decimal
	BulkClampMax decimal.Decimal
	PriceFloor   decimal.Decimal
}

// Generator produces the next price for one asset from its current
// price, volatility and trend. It is a leaf component: no store, no
// clock, all inputs explicit.
type Generator struct {
	noise  Noise
	params Params
}

// NewGenerator creates a price generator over the given noise source.
func NewGenerator(noise Noise, params Params) *Generator {
	return &Generator{noise: noise, params: params}
}

// NewTrend draws a fresh trend: random direction, strength up to 0.2%
// daily drift, duration between one and seven days of hourly steps.
func (g *Generator) NewTrend() Trend {
	return Trend{
		Direction: g.noise.IntN(3) - 1,
		Strength:  g.noise.Float64() * 0.002,
		Remaining: 24 + g.noise.IntN(144),
	}
}

// advance decrements the trend's duration counter, regenerating the
// trend first when it has run out, and returns the current drift.
func (g *Generator) advance(t *Trend) float64 {
	if t.Remaining <= 0 {
		*t = g.NewTrend()
	}
	t.Remaining--
	return float64(t.Direction) * t.Strength
}

// SpecificReturn computes the asset-specific GBM return for one step:
// drift*dt + volatility*sqrt(dt)*z with z ~ N(0,1). The trend advances
// as a side effect. Volatility is the effective daily volatility after
// phase and event multipliers.
func (g *Generator) SpecificReturn(volatility decimal.Decimal, trend *Trend, dt float64) float64 {
	drift := g.advance(trend)
	z := g.noise.StdNormal()
	return drift*dt + volatility.InexactFloat64()*math.Sqrt(dt)*z
}

// NextPrice applies a fractional return to a price under the normal
// per-step clamp bounds.
func (g *Generator) NextPrice(price decimal.Decimal, ret float64) decimal.Decimal {
	return g.applyReturn(price, ret, g.params.ClampMin, g.params.ClampMax)
}

// BulkNextPrice applies a return under the wider bulk-regeneration
// clamp bounds, used when synthesizing history in batch.
func (g *Generator) BulkNextPrice(price decimal.Decimal, ret float64) decimal.Decimal {
	return g.applyReturn(price, ret, g.params.BulkClampMin, g.params.BulkClampMax)
}

func (g *Generator) applyReturn(price decimal.Decimal, ret float64, clampMin, clampMax decimal.Decimal) decimal.Decimal {
	change := price.Mul(decimal.NewFromFloat(ret))
	next := price.Add(change)

	if lo := price.Mul(clampMin); next.LessThan(lo) {
		next = lo
	}
	if hi := price.Mul(clampMax); next.GreaterThan(hi) {
		next = hi
	}
	if next.LessThan(g.params.PriceFloor) {
		next = g.params.PriceFloor
	}
	return next.Round(PriceScale)
}

// SynthesizeTick builds an OHLCV record for one price step. High and
// low pad the open/close range by 10% of the move; volume is a random
// base. Presentation values only.
func (g *Generator) SynthesizeTick(assetID string, open, close decimal.Decimal, at time.Time) model.PriceTick {
	change := close.Sub(open).Abs()
	pad := change.Mul(decimal.NewFromFloat(0.1))

	high := decimal.Max(open, close).Add(pad)
	low := decimal.Min(open, close).Sub(pad)
	if low.LessThan(g.params.PriceFloor) {
		low = g.params.PriceFloor
	}

	volume := decimal.NewFromFloat(1000 + g.noise.Float64()*99000)

	return model.PriceTick{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Timestamp: at,
		Open:      open.Round(PriceScale),
		High:      high.Round(PriceScale),
		Low:       low.Round(PriceScale),
		Close:     close.Round(PriceScale),
		Volume:    volume.Round(2),
	}
}
