package pricing

import (
	"gonum.org/v1/gonum/stat"

	"github.com/candlz/market-engine/internal/model"
)

// marketSigma is the daily volatility of the shared market return.
const marketSigma = 0.02

// Table is a symmetric asset-type correlation lookup. Pairs absent
// from the configured rows fall back to the default correlation.
type Table struct {
	pairs map[model.AssetType]map[model.AssetType]float64
	def   float64
}

// NewTable builds a correlation table from configured rows and a
// fallback value for unlisted pairs.
func NewTable(pairs map[model.AssetType]map[model.AssetType]float64, def float64) *Table {
	return &Table{pairs: pairs, def: def}
}

// Corr returns the correlation between two asset types, checking both
// orientations before falling back to the default.
func (t *Table) Corr(a, b model.AssetType) float64 {
	if row, ok := t.pairs[a]; ok {
		if c, ok := row[b]; ok {
			return c
		}
	}
	if row, ok := t.pairs[b]; ok {
		if c, ok := row[a]; ok {
			return c
		}
	}
	return t.def
}

// Aggregator combines the shared market return with asset-specific
// returns, weighted by each type's correlation to the reference stock
// market.
type Aggregator struct {
	table *Table
	noise Noise
}

// NewAggregator creates an aggregator over a correlation table.
func NewAggregator(table *Table, noise Noise) *Aggregator {
	return &Aggregator{table: table, noise: noise}
}

// MarketReturn draws the market-wide return for one step: N(bias,
// 0.02) where bias is the current phase's drift bias. Drawn once per
// tick and shared by every asset.
func (a *Aggregator) MarketReturn(phaseBias float64) float64 {
	return a.noise.Normal(phaseBias, marketSigma)
}

// Blend computes an asset's final return from the shared market return
// and its own specific return:
//
//	final = market*corr + specific*(1-corr)
//
// where corr is the asset type's correlation to the stock market.
func (a *Aggregator) Blend(t model.AssetType, market, specific float64) float64 {
	c := a.table.Corr(t, model.AssetStock)
	return market*c + specific*(1-c)
}

// ReturnStats summarizes a window of realized returns for analytics.
type ReturnStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Describe computes mean and standard deviation of a return series.
func Describe(returns []float64) ReturnStats {
	if len(returns) == 0 {
		return ReturnStats{}
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if len(returns) < 2 {
		std = 0
	}
	return ReturnStats{Mean: mean, StdDev: std}
}
