package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/market"
	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/portfolio"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
	"github.com/candlz/market-engine/internal/trading"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// flatNoise produces zero-movement draws: normals collapse to their
// mean, trends get direction zero, and probability rolls never hit.
// With a zero-default correlation table, prices hold exactly still
// between admin overrides, which makes order execution deterministic.
type flatNoise struct{}

func (flatNoise) StdNormal() float64               { return 0 }
func (flatNoise) Normal(mu, sigma float64) float64 { return mu }
func (flatNoise) Float64() float64                 { return 0.99 }
func (flatNoise) IntN(n int) int {
	if n > 1 {
		return 1
	}
	return 0
}

type testEnv struct {
	coord *Coordinator
	store *store.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	noise := flatNoise{}

	gen := pricing.NewGenerator(noise, pricing.Params{
		ClampMin:     d(0.5),
		ClampMax:     d(2.0),
		BulkClampMin: d(0.1),
		BulkClampMax: d(10.0),
		PriceFloor:   d(0.01),
	})
	agg := pricing.NewAggregator(pricing.NewTable(nil, 0), noise)
	phases := market.NewPhases(noise)
	scheduler := market.NewScheduler(st, noise, market.SchedulerParams{
		Probability:   0,
		MaxConcurrent: 3,
		Catalogue:     []market.EventWeight{{Type: model.EventEarnings, Title: "Earnings", Weight: 1}},
		PriceFloor:    d(0.01),
	}, logger)
	trader := trading.NewEngine(st, d(0.001), logger)
	classifier := portfolio.NewClassifier(st, []portfolio.Tier{
		{Name: "retail_trader", Threshold: decimal.NewFromInt(1_000)},
		{Name: "active_trader", Threshold: decimal.NewFromInt(10_000)},
	}, logger)
	valuer := portfolio.NewValuer(st, logger)

	coord := New(Deps{
		Store:      st,
		Generator:  gen,
		Aggregator: agg,
		Phases:     phases,
		Scheduler:  scheduler,
		Trader:     trader,
		Valuer:     valuer,
		Classifier: classifier,
		Logger:     logger,
		Interval:   time.Hour,
	})
	return &testEnv{coord: coord, store: st}
}

func (env *testEnv) seedAsset(t *testing.T, symbol string, price float64) *model.Asset {
	t.Helper()
	now := time.Now().UTC()
	a := &model.Asset{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Name:         symbol,
		Type:         model.AssetStock,
		CurrentPrice: d(price),
		Volatility:   d(0.02),
		Beta:         d(1),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.store.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}

func (env *testEnv) seedPlayer(t *testing.T, cash float64) *model.Player {
	t.Helper()
	p := &model.Player{
		ID:              uuid.NewString(),
		Username:        "trader",
		CashBalance:     d(cash),
		PortfolioValue:  d(cash),
		WealthTier:      "retail_trader",
		StartingCapital: d(cash),
		CreatedAt:       time.Now().UTC(),
	}
	if err := env.store.CreatePlayer(context.Background(), p); err != nil {
		t.Fatalf("create player: %v", err)
	}
	return p
}

func (env *testEnv) placeOrder(t *testing.T, o *model.Order) *model.Order {
	t.Helper()
	if err := env.coord.trader.PlaceOrder(context.Background(), o); err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}

func TestTick_UpdatesAllAssets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a1 := env.seedAsset(t, "AAPL", 100)
	env.seedAsset(t, "BTC", 50000)

	summary := env.coord.Tick(ctx)
	if len(summary.Errors) != 0 {
		t.Fatalf("tick errors: %v", summary.Errors)
	}
	if summary.PricesUpdated != 2 {
		t.Errorf("prices updated = %d, want 2", summary.PricesUpdated)
	}

	// Each update appends OHLCV history.
	ticks, err := env.store.ListPriceTicks(ctx, a1.ID, 10)
	if err != nil || len(ticks) != 1 {
		t.Errorf("history entries = %d (err %v), want 1", len(ticks), err)
	}

	status := env.coord.Status(ctx)
	if status.MarketState.TickCount != 1 {
		t.Errorf("tick count = %d, want 1", status.MarketState.TickCount)
	}
	if status.MarketState.Calculations != 2 {
		t.Errorf("calculations = %d, want 2", status.MarketState.Calculations)
	}
	if status.MarketState.Phase != model.PhaseNormal {
		t.Errorf("phase = %s, want normal", status.MarketState.Phase)
	}
}

func TestLimitSellExecutesWhenPriceReachesLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 105)
	player := env.seedPlayer(t, 1000)

	// Acquire the position at 105 via a market buy on the first tick.
	buy := env.placeOrder(t, &model.Order{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeMarket, Side: model.SideBuy, Quantity: d(5),
	})
	env.coord.Tick(ctx)
	if o, _ := env.store.GetOrder(ctx, buy.ID); o.Status != model.OrderStatusFilled {
		t.Fatalf("buy status = %s, want filled", o.Status)
	}

	sell := env.placeOrder(t, &model.Order{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeLimit, Side: model.SideSell, Quantity: d(5), Price: d(110),
	})

	// The price holds at 105, below the limit: the order must rest.
	for i := 0; i < 3; i++ {
		env.coord.Tick(ctx)
		o, _ := env.store.GetOrder(ctx, sell.ID)
		if o.Status != model.OrderStatusPending {
			t.Fatalf("tick %d: sell status = %s, want pending", i, o.Status)
		}
	}

	// Push the price to the limit; the next tick fills the order.
	if _, err := env.coord.UpdateAssetPrice(ctx, asset.ID, d(110)); err != nil {
		t.Fatalf("override price: %v", err)
	}
	env.coord.Tick(ctx)

	o, _ := env.store.GetOrder(ctx, sell.ID)
	if o.Status != model.OrderStatusFilled {
		t.Fatalf("sell status = %s, want filled", o.Status)
	}
	if !o.AvgFillPrice.Equal(d(110)) {
		t.Errorf("fill price = %s, want 110", o.AvgFillPrice)
	}

	// Buy: 525 + 0.525 commission. Sell: 550 - 0.55 commission.
	got, _ := env.store.GetPlayer(ctx, player.ID)
	if !got.CashBalance.Equal(d(1023.925)) {
		t.Errorf("cash = %s, want 1023.925", got.CashBalance)
	}
	if _, err := env.store.GetPosition(ctx, player.ID, asset.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("position should be closed, got err %v", err)
	}
}

func TestConcurrentTicksSerialize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 100)
	player := env.seedPlayer(t, 1000)

	env.placeOrder(t, &model.Order{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeMarket, Side: model.SideBuy, Quantity: d(5),
	})

	const ticks = 8
	var wg sync.WaitGroup
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.coord.Tick(ctx)
		}()
	}
	wg.Wait()

	// Exactly one of the concurrent ticks fills the order; the rest see
	// it closed.
	got, _ := env.store.GetPlayer(ctx, player.ID)
	if !got.CashBalance.Equal(d(499.50)) {
		t.Errorf("cash = %s, want 499.50", got.CashBalance)
	}

	status := env.coord.Status(ctx)
	if status.MarketState.TickCount != ticks {
		t.Errorf("tick count = %d, want %d", status.MarketState.TickCount, ticks)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t)

	env.coord.Start()
	env.coord.Start()
	if !env.coord.Running() {
		t.Fatal("engine should be running")
	}

	env.coord.Stop()
	if env.coord.Running() {
		t.Fatal("engine should be stopped")
	}
	env.coord.Stop()
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAsset(t, "AAPL", 100)

	h := env.coord.Health(ctx)
	if h.Status != "healthy" {
		t.Fatalf("status = %s, want healthy", h.Status)
	}

	env.coord.Tick(ctx)
	h = env.coord.Health(ctx)
	if h.TickCount != 1 {
		t.Errorf("tick count = %d, want 1", h.TickCount)
	}

	// A running engine with a stale last tick degrades.
	env.coord.Start()
	defer env.coord.Stop()
	env.coord.mu.Lock()
	env.coord.lastTick = time.Now().UTC().Add(-10 * time.Minute)
	env.coord.mu.Unlock()

	h = env.coord.Health(ctx)
	if h.Status != "degraded" {
		t.Errorf("status = %s, want degraded when stale", h.Status)
	}
	if len(h.Issues) != 1 {
		t.Errorf("issues = %v, want the staleness issue reported", h.Issues)
	}
}

func TestUpdateAssetPrice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 100)

	if _, err := env.coord.UpdateAssetPrice(ctx, asset.ID, d(-5)); err == nil {
		t.Fatal("negative price should be rejected")
	} else {
		var verr *trading.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
	}

	updated, err := env.coord.UpdateAssetPrice(ctx, asset.ID, d(123.45))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CurrentPrice.Equal(d(123.45)) {
		t.Errorf("price = %s, want 123.45", updated.CurrentPrice)
	}

	// The override also appends a history record and counts as a
	// price calculation.
	ticks, _ := env.store.ListPriceTicks(ctx, asset.ID, 10)
	if len(ticks) != 1 || !ticks[0].Close.Equal(d(123.45)) {
		t.Errorf("history = %+v, want one tick closing 123.45", ticks)
	}
	if calcs := env.coord.Status(ctx).MarketState.Calculations; calcs != 1 {
		t.Errorf("calculations = %d, want 1", calcs)
	}
}

func TestInjectEvent_AppliedOnNextTick(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 100)

	err := env.coord.InjectEvent(ctx, &model.MarketEvent{
		Type:                 model.EventEarnings,
		Title:                "Blowout Quarter",
		VolatilityMultiplier: d(1),
		AffectedAssets:       []string{"AAPL"},
		PriceImpact:          d(0.05),
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}

	summary := env.coord.Tick(ctx)
	if summary.EventsProcessed != 1 {
		t.Fatalf("events processed = %d, want 1", summary.EventsProcessed)
	}

	got, _ := env.store.GetAsset(ctx, asset.ID)
	if !got.CurrentPrice.Equal(d(105)) {
		t.Errorf("price = %s, want 105 after +5%% event", got.CurrentPrice)
	}
}

func TestSimulateEventImpact_ClampsSeverity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 100)

	// Severity 0.5 clamps to the +10% bound.
	if err := env.coord.SimulateEventImpact(ctx, asset.ID, model.EventBlackSwan, d(0.5)); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	got, _ := env.store.GetAsset(ctx, asset.ID)
	if !got.CurrentPrice.Equal(d(110)) {
		t.Errorf("price = %s, want 110 (clamped +10%%)", got.CurrentPrice)
	}
}

func TestAssetReturnStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	asset := env.seedAsset(t, "AAPL", 100)

	base := time.Now().UTC().Add(-time.Hour)
	closes := []float64{100, 110}
	for i, c := range closes {
		tick := &model.PriceTick{
			ID:        uuid.NewString(),
			AssetID:   asset.ID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      d(c),
			High:      d(c),
			Low:       d(c),
			Close:     d(c),
			Volume:    d(1000),
		}
		if err := env.store.InsertPriceTick(ctx, tick); err != nil {
			t.Fatalf("insert tick: %v", err)
		}
	}

	stats, err := env.coord.AssetReturnStats(ctx, asset.ID, 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Mean != 0.1 {
		t.Errorf("mean return = %v, want 0.1", stats.Mean)
	}
	if stats.StdDev != 0 {
		t.Errorf("stddev = %v, want 0 for a single return", stats.StdDev)
	}

	// Too little history yields zero stats rather than an error.
	empty := env.seedAsset(t, "BTC", 100)
	stats, err = env.coord.AssetReturnStats(ctx, empty.ID, 10)
	if err != nil || stats.Mean != 0 || stats.StdDev != 0 {
		t.Errorf("short history stats = %+v (err %v), want zeros", stats, err)
	}
}
