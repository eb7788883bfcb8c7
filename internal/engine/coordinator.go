// Package engine wires the pricing, market, trading and portfolio
// components into a single simulation loop. One tick runs at a time;
// the coordinator's mutex serializes background ticks, manual ticks
// and admin mutations.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/market"
	"github.com/candlz/market-engine/internal/metrics"
	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/portfolio"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
	"github.com/candlz/market-engine/internal/trading"
)

// dt is the simulated time step per tick: one trading day.
const dt = 1.0 / 365

// stopTimeout bounds how long Stop waits for the tick loop to join.
const stopTimeout = 5 * time.Second

// staleThreshold marks the engine degraded when the last tick is older
// than this while running.
const staleThreshold = 5 * time.Minute

// Broadcaster pushes tick results to connected clients. The WebSocket
// hub implements it; a nil broadcaster disables pushes.
type Broadcaster interface {
	Broadcast(v any)
}

// Coordinator owns the tick loop and all shared market state: the
// phase machine, per-asset trends and tick counters.
type Coordinator struct {
	store       store.Store
	generator   *pricing.Generator
	aggregator  *pricing.Aggregator
	phases      *market.Phases
	scheduler   *market.Scheduler
	trader      *trading.Engine
	valuer      *portfolio.Valuer
	classifier  *portfolio.Classifier
	logger      *slog.Logger
	interval    time.Duration
	broadcaster Broadcaster

	// mu guards the market state below and serializes ticks.
	mu          sync.Mutex
	trends      map[string]*pricing.Trend
	tickCount   uint64
	calcCount   uint64
	lastTick    time.Time
	lastSummary model.TickSummary

	// runMu guards the background loop lifecycle.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Store      store.Store
	Generator  *pricing.Generator
	Aggregator *pricing.Aggregator
	Phases     *market.Phases
	Scheduler  *market.Scheduler
	Trader     *trading.Engine
	Valuer     *portfolio.Valuer
	Classifier *portfolio.Classifier
	Logger     *slog.Logger
	Interval   time.Duration
}

// New creates a coordinator. It does not start the tick loop.
func New(d Deps) *Coordinator {
	return &Coordinator{
		store:      d.Store,
		generator:  d.Generator,
		aggregator: d.Aggregator,
		phases:     d.Phases,
		scheduler:  d.Scheduler,
		trader:     d.Trader,
		valuer:     d.Valuer,
		classifier: d.Classifier,
		logger:     d.Logger,
		interval:   d.Interval,
		trends:     make(map[string]*pricing.Trend),
	}
}

// SetBroadcaster attaches a client push sink. Call before Start.
func (c *Coordinator) SetBroadcaster(b Broadcaster) { c.broadcaster = b }

// Start launches the background tick loop. Starting a running engine
// is a no-op.
func (c *Coordinator) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.run(ctx, done)
	c.logger.Info("simulation started", "interval", c.interval.String())
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Stop cancels the tick loop and joins it with a bounded timeout. A
// loop that fails to stop in time is reported and abandoned, not
// treated as fatal. Stopping a stopped engine is a no-op.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}

	c.cancel()
	select {
	case <-c.done:
		c.logger.Info("simulation stopped")
	case <-time.After(stopTimeout):
		c.logger.Warn("tick loop did not stop within timeout", "timeout", stopTimeout.String())
	}
	c.cancel = nil
	c.done = nil
}

// Running reports whether the background loop is active.
func (c *Coordinator) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Tick runs one full simulation step. At most one tick executes at a
// time, whether invoked by the background loop or manually. Non-fatal
// step errors are collected in the summary rather than aborting.
func (c *Coordinator) Tick(ctx context.Context) model.TickSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	now := start.UTC()
	summary := model.TickSummary{Timestamp: now}

	collect := func(errs ...error) {
		for _, err := range errs {
			if err == nil {
				continue
			}
			summary.Errors = append(summary.Errors, err.Error())
			metrics.TickErrors.Inc()
		}
	}

	// 1. Market conditions.
	if c.phases.Advance() {
		c.logger.Info("market phase changed", "phase", c.phases.Current())
	}
	metrics.SetPhase(c.phases.Current(), []string{
		model.PhaseNormal, model.PhaseBull, model.PhaseBear, model.PhaseCrash, model.PhaseRecovery,
	})

	// 2. Apply unprocessed active events.
	processed, err := c.scheduler.Process(ctx, now)
	summary.EventsProcessed = processed
	collect(err)

	// 3. Roll for a new random event; it takes effect next step.
	_, err = c.scheduler.MaybeSpawn(ctx, now)
	collect(err)

	if active, err := c.store.ListActiveEvents(ctx, now); err == nil {
		metrics.EventsActive.Set(float64(len(active)))
	}

	// 4. Regenerate prices.
	updates, errs := c.updatePrices(ctx, now)
	summary.PricesUpdated = len(updates)
	c.calcCount += uint64(len(updates))
	collect(errs...)

	// 5. Execute orders that trigger at the new prices.
	executed, errs := c.trader.ExecutePending(ctx, now)
	summary.OrdersExecuted = executed
	collect(errs...)

	// 6. Revalue portfolios and reclassify wealth tiers.
	revalued, errs := c.valuer.RevalueAll(ctx, c.classifier, now)
	summary.PortfoliosUpdated = revalued
	collect(errs...)

	c.tickCount++
	c.lastTick = now
	c.lastSummary = summary

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	if len(summary.Errors) > 0 {
		c.logger.Warn("tick completed with errors",
			"tick", c.tickCount, "errors", len(summary.Errors))
	} else {
		c.logger.Debug("tick completed",
			"tick", c.tickCount,
			"prices", summary.PricesUpdated,
			"orders", summary.OrdersExecuted)
	}

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(tickBroadcast{Type: "tick", Summary: summary, Prices: updates})
	}
	return summary
}

// PriceUpdate is one asset's new price in the tick broadcast payload.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// tickBroadcast is the WebSocket payload pushed after each tick.
type tickBroadcast struct {
	Type    string            `json:"type"`
	Summary model.TickSummary `json:"summary"`
	Prices  []PriceUpdate     `json:"prices,omitempty"`
}

// updatePrices draws one shared market return, then walks every active
// asset: advance its trend, compute its blended return, clamp and
// persist the new price, and append an OHLCV record.
func (c *Coordinator) updatePrices(ctx context.Context, now time.Time) ([]PriceUpdate, []error) {
	assets, err := c.store.ListActiveAssets(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("list assets: %w", err)}
	}

	marketReturn := c.aggregator.MarketReturn(c.phases.DriftBias())
	volMultiplier := c.phases.VolatilityMultiplier()

	updated := make([]PriceUpdate, 0, len(assets))
	var errs []error
	for i := range assets {
		asset := &assets[i]

		trend, ok := c.trends[asset.ID]
		if !ok {
			t := c.generator.NewTrend()
			trend = &t
			c.trends[asset.ID] = trend
		}

		effectiveVol := asset.Volatility.Mul(volMultiplier)
		specific := c.generator.SpecificReturn(effectiveVol, trend, dt)
		final := c.aggregator.Blend(asset.Type, marketReturn, specific)

		oldPrice := asset.CurrentPrice
		newPrice := c.generator.NextPrice(oldPrice, final)

		if err := c.store.UpdateAssetMarket(ctx, asset.ID, newPrice, nil, now); err != nil {
			errs = append(errs, fmt.Errorf("update %s price: %w", asset.Symbol, err))
			continue
		}

		tick := c.generator.SynthesizeTick(asset.ID, oldPrice, newPrice, now)
		if err := c.store.InsertPriceTick(ctx, &tick); err != nil {
			errs = append(errs, fmt.Errorf("record %s tick: %w", asset.Symbol, err))
			continue
		}

		updated = append(updated, PriceUpdate{Symbol: asset.Symbol, Price: newPrice})
		metrics.PricesUpdated.Inc()
	}
	return updated, errs
}

// Status is a consistent snapshot of the engine's market state.
type Status struct {
	Running          bool              `json:"running"`
	MarketState      model.MarketState `json:"market_state"`
	ActiveEventCount int               `json:"active_event_count"`
	LastSummary      model.TickSummary `json:"last_summary"`
}

// Status returns a snapshot without blocking for a full tick: the
// state is copied under the lock briefly.
func (c *Coordinator) Status(ctx context.Context) Status {
	running := c.Running()

	activeEvents := 0
	if events, err := c.store.ListActiveEvents(ctx, time.Now().UTC()); err == nil {
		activeEvents = len(events)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running: running,
		MarketState: model.MarketState{
			Phase:                c.phases.Current(),
			VolatilityMultiplier: c.phases.VolatilityMultiplier(),
			EconomicCycle:        c.phases.Cycle(),
			LastUpdate:           c.lastTick,
			TickCount:            c.tickCount,
			Calculations:         c.calcCount,
		},
		ActiveEventCount: activeEvents,
		LastSummary:      c.lastSummary,
	}
}

// UpdateAssetPrice sets an asset's price manually (admin override) and
// records a tick for it. Serialized with the tick loop.
func (c *Coordinator) UpdateAssetPrice(ctx context.Context, assetID string, price decimal.Decimal) (*model.Asset, error) {
	if !price.IsPositive() {
		return nil, &trading.ValidationError{Field: "price", Reason: "must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rounded := price.Round(pricing.PriceScale)
	if err := c.store.UpdateAssetMarket(ctx, assetID, rounded, nil, now); err != nil {
		return nil, fmt.Errorf("update price: %w", err)
	}

	tick := c.generator.SynthesizeTick(assetID, asset.CurrentPrice, rounded, now)
	if err := c.store.InsertPriceTick(ctx, &tick); err != nil {
		return nil, fmt.Errorf("record tick: %w", err)
	}
	metrics.PricesUpdated.Inc()
	c.calcCount++

	if _, err := c.valuer.RevalueHolders(ctx, assetID, now); err != nil {
		c.logger.Warn("holder revaluation failed", "asset_id", assetID, "err", err)
	}

	asset.CurrentPrice = rounded
	asset.UpdatedAt = now
	c.logger.Info("asset price overridden", "asset_id", assetID, "price", rounded.String())
	return asset, nil
}

// InjectEvent persists an admin-supplied market event. Its impact
// applies on the next tick's event pass.
func (c *Coordinator) InjectEvent(ctx context.Context, e *model.MarketEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.ScheduledTime.IsZero() {
		e.ScheduledTime = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.DurationHours <= 0 {
		e.DurationHours = 1
	}
	if err := c.store.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("inject event: %w", err)
	}
	c.logger.Info("event injected", "event_id", e.ID, "type", e.Type)
	return nil
}

// maxSimulatedImpact bounds admin-simulated shocks to the same ±10%
// range as randomly generated events.
var maxSimulatedImpact = decimal.NewFromFloat(0.1)

// SimulateEventImpact applies a synthetic shock of the given type and
// signed severity to one asset immediately, without persisting an
// event. Severity is clamped to ±10%. Serialized with the tick loop.
func (c *Coordinator) SimulateEventImpact(ctx context.Context, assetID, eventType string, severity decimal.Decimal) error {
	if severity.GreaterThan(maxSimulatedImpact) {
		severity = maxSimulatedImpact
	}
	if severity.LessThan(maxSimulatedImpact.Neg()) {
		severity = maxSimulatedImpact.Neg()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.store.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}

	synthetic := &model.MarketEvent{
		ID:                   uuid.NewString(),
		Type:                 eventType,
		Title:                "Simulated Impact",
		ScheduledTime:        time.Now().UTC(),
		DurationHours:        1,
		VolatilityMultiplier: decimal.NewFromFloat(1.5),
		AffectedAssets:       []string{asset.Symbol},
		PriceImpact:          severity,
	}
	return c.scheduler.ApplyImpact(ctx, synthetic)
}

// Analytics aggregates market-wide statistics.
type Analytics struct {
	TotalAssets    int64                `json:"total_assets"`
	ActiveAssets   int64                `json:"active_assets"`
	TotalPlayers   int64                `json:"total_players"`
	OrdersByStatus map[string]int64     `json:"orders_by_status"`
	Portfolios     store.PortfolioStats `json:"portfolios"`
	MarketState    model.MarketState    `json:"market_state"`
}

// Analytics computes engine-wide counts and portfolio aggregates.
func (c *Coordinator) Analytics(ctx context.Context) (*Analytics, error) {
	total, active, err := c.store.CountAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}
	players, err := c.store.CountPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count players: %w", err)
	}
	orders, err := c.store.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	portfolios, err := c.store.GetPortfolioStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio stats: %w", err)
	}

	return &Analytics{
		TotalAssets:    total,
		ActiveAssets:   active,
		TotalPlayers:   players,
		OrdersByStatus: orders,
		Portfolios:     portfolios,
		MarketState:    c.Status(ctx).MarketState,
	}, nil
}

// AssetReturnStats summarizes an asset's recent close-to-close returns.
func (c *Coordinator) AssetReturnStats(ctx context.Context, assetID string, window int) (pricing.ReturnStats, error) {
	if window <= 0 {
		window = 50
	}
	ticks, err := c.store.ListPriceTicks(ctx, assetID, window)
	if err != nil {
		return pricing.ReturnStats{}, fmt.Errorf("price history: %w", err)
	}
	if len(ticks) < 2 {
		return pricing.ReturnStats{}, nil
	}

	// Ticks arrive newest-first; compute oldest-to-newest returns.
	returns := make([]float64, 0, len(ticks)-1)
	for i := len(ticks) - 1; i > 0; i-- {
		prev := ticks[i].Close
		next := ticks[i-1].Close
		if !prev.IsPositive() {
			continue
		}
		returns = append(returns, next.Sub(prev).Div(prev).InexactFloat64())
	}
	return pricing.Describe(returns), nil
}

// Health reports engine liveness: store reachability and tick
// freshness. A running engine whose last tick is older than five
// minutes is degraded; an unreachable store is unhealthy.
type Health struct {
	Status    string    `json:"status"` // healthy | degraded | unhealthy
	Running   bool      `json:"running"`
	TickCount uint64    `json:"tick_count"`
	LastTick  time.Time `json:"last_tick,omitempty"`
	Issues    []string  `json:"issues,omitempty"`
}

// Health checks the store and tick staleness.
func (c *Coordinator) Health(ctx context.Context) Health {
	running := c.Running()

	c.mu.Lock()
	lastTick := c.lastTick
	tickCount := c.tickCount
	c.mu.Unlock()

	h := Health{Status: "healthy", Running: running, TickCount: tickCount, LastTick: lastTick}

	// Every issue is collected; a store failure does not mask staleness.
	if err := c.store.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		h.Issues = append(h.Issues, fmt.Sprintf("store unreachable: %v", err))
	}
	if running && !lastTick.IsZero() && time.Since(lastTick) > staleThreshold {
		if h.Status == "healthy" {
			h.Status = "degraded"
		}
		h.Issues = append(h.Issues, fmt.Sprintf("last tick %s ago", time.Since(lastTick).Round(time.Second)))
	}
	return h
}
