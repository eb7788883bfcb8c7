// Package market models global market conditions: the phase state
// machine (normal/bull/bear/crash/recovery) and the random event
// scheduler that shocks asset prices.
package market

import (
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/pricing"
)

// phaseTransitions lists the phases reachable from each phase. A crash
// never jumps straight back to bull; it must pass through recovery or
// bear first.
var phaseTransitions = map[string][]string{
	model.PhaseNormal:   {model.PhaseBull, model.PhaseBear, model.PhaseNormal},
	model.PhaseBull:     {model.PhaseNormal, model.PhaseCrash, model.PhaseBull},
	model.PhaseBear:     {model.PhaseNormal, model.PhaseRecovery, model.PhaseBear},
	model.PhaseCrash:    {model.PhaseRecovery, model.PhaseBear},
	model.PhaseRecovery: {model.PhaseNormal, model.PhaseBull},
}

// phaseVolatility scales every asset's volatility by the current phase.
var phaseVolatility = map[string]decimal.Decimal{
	model.PhaseNormal:   decimal.NewFromFloat(1.0),
	model.PhaseBull:     decimal.NewFromFloat(1.2),
	model.PhaseBear:     decimal.NewFromFloat(1.5),
	model.PhaseCrash:    decimal.NewFromFloat(3.0),
	model.PhaseRecovery: decimal.NewFromFloat(2.0),
}

// phaseBias is the drift each phase adds to the shared market return.
var phaseBias = map[string]float64{
	model.PhaseNormal:   0.0001,
	model.PhaseBull:     0.005,
	model.PhaseBear:     -0.005,
	model.PhaseCrash:    -0.02,
	model.PhaseRecovery: 0.01,
}

// cycleOrder rotates expansion → peak → contraction → trough.
var cycleOrder = []string{
	model.CycleExpansion, model.CyclePeak, model.CycleContraction, model.CycleTrough,
}

// cycleAdvanceProbability is the per-step chance the economic cycle
// rotates to its next stage.
const cycleAdvanceProbability = 0.002

// Phases drives the market phase state machine. Not safe for
// concurrent use; the coordinator serializes access.
type Phases struct {
	noise pricing.Noise

	phase string
	cycle string
}

// NewPhases starts the state machine in the normal phase of an
// expansion.
func NewPhases(noise pricing.Noise) *Phases {
	return &Phases{
		noise: noise,
		phase: model.PhaseNormal,
		cycle: model.CycleExpansion,
	}
}

// Current returns the active phase name.
func (p *Phases) Current() string { return p.phase }

// Cycle returns the active economic cycle stage.
func (p *Phases) Cycle() string { return p.cycle }

// VolatilityMultiplier returns the current phase's volatility scaling.
func (p *Phases) VolatilityMultiplier() decimal.Decimal {
	if m, ok := phaseVolatility[p.phase]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// DriftBias returns the current phase's market drift bias.
func (p *Phases) DriftBias() float64 {
	return phaseBias[p.phase]
}

// Advance gives the phase a chance to transition, scaled by the
// current volatility multiplier so turbulent phases change faster,
// and slowly rotates the economic cycle. Returns true when the phase
// changed.
func (p *Phases) Advance() bool {
	changed := false

	changeProbability := 0.01 * p.VolatilityMultiplier().InexactFloat64()
	if p.noise.Float64() < changeProbability {
		next := phaseTransitions[p.phase]
		if len(next) == 0 {
			next = []string{model.PhaseNormal}
		}
		chosen := next[p.noise.IntN(len(next))]
		changed = chosen != p.phase
		p.phase = chosen
	}

	if p.noise.Float64() < cycleAdvanceProbability {
		for i, c := range cycleOrder {
			if c == p.cycle {
				p.cycle = cycleOrder[(i+1)%len(cycleOrder)]
				break
			}
		}
	}

	return changed
}

// Reset returns the state machine to its initial conditions. Used when
// the engine restarts simulation from scratch.
func (p *Phases) Reset() {
	p.phase = model.PhaseNormal
	p.cycle = model.CycleExpansion
}

// CanTransition reports whether a direct move between two phases is
// legal. Exposed for admin-driven phase overrides, which must respect
// the same graph as random transitions.
func CanTransition(from, to string) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
