package market

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAsset(t *testing.T, st *store.MemoryStore, symbol string, typ model.AssetType, price float64) *model.Asset {
	t.Helper()
	now := time.Now().UTC()
	asset := &model.Asset{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Name:         symbol,
		Type:         typ,
		CurrentPrice: d(price),
		Volatility:   d(0.02),
		Beta:         d(1),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.CreateAsset(context.Background(), asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return asset
}

func testScheduler(st *store.MemoryStore, noise *scriptNoise) *Scheduler {
	return NewScheduler(st, noise, SchedulerParams{
		Probability:   0.1,
		MaxConcurrent: 3,
		Catalogue: []EventWeight{
			{Type: model.EventEarnings, Title: "Earnings Surprise", Weight: 0.3},
			{Type: model.EventRegulatory, Title: "Regulatory Change", Weight: 0.1},
		},
		PriceFloor: d(0.01),
	}, testLogger())
}

func TestMaybeSpawn_BelowProbabilityDoesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	// Spawn roll 0.99 ≥ probability 0.1 → no event.
	s := testScheduler(st, &scriptNoise{floats: []float64{0.99}})

	event, err := s.MaybeSpawn(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Fatal("no event should spawn when the roll fails")
	}
}

func TestMaybeSpawn_CreatesEventWithAffinity(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAsset(t, st, "AAPL", model.AssetStock, 100)
	seedAsset(t, st, "BTC", model.AssetCrypto, 50000)

	// Draws: spawn roll 0.0; weighted pick 0.0 → earnings; severity
	// and subset draws follow.
	noise := &scriptNoise{floats: []float64{0.0, 0.0, 0.5, 0.5, 0.5}, ints: []int{0, 0, 0, 0}}
	s := testScheduler(st, noise)

	now := time.Now().UTC()
	event, err := s.MaybeSpawn(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}
	if event.Type != model.EventEarnings {
		t.Errorf("type = %s, want earnings", event.Type)
	}
	// Earnings events target stocks only.
	for _, symbol := range event.AffectedAssets {
		if symbol != "AAPL" {
			t.Errorf("earnings event hit non-stock asset %s", symbol)
		}
	}
	if event.DurationHours < 1 || event.DurationHours > 24 {
		t.Errorf("duration out of range: %d", event.DurationHours)
	}
	if event.PriceImpact.Abs().GreaterThan(d(0.1)) {
		t.Errorf("impact out of range: %s", event.PriceImpact)
	}
	if event.VolatilityMultiplier.LessThan(d(0.8)) || event.VolatilityMultiplier.GreaterThan(d(2.5)) {
		t.Errorf("volatility multiplier out of range: %s", event.VolatilityMultiplier)
	}

	// The event must have been persisted as active.
	active, err := st.ListActiveEvents(ctx, now)
	if err != nil || len(active) != 1 {
		t.Fatalf("active events = %d (err %v), want 1", len(active), err)
	}
}

func TestMaybeSpawn_RespectsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedAsset(t, st, "AAPL", model.AssetStock, 100)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := st.CreateEvent(ctx, &model.MarketEvent{
			ID:            uuid.NewString(),
			Type:          model.EventEarnings,
			ScheduledTime: now,
			DurationHours: 5,
			CreatedAt:     now,
		})
		if err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}

	s := testScheduler(st, &scriptNoise{floats: []float64{0.0}})
	event, err := s.MaybeSpawn(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Error("cap of 3 active events should block a fourth")
	}
}

func TestProcess_AppliesImpactExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	asset := seedAsset(t, st, "AAPL", model.AssetStock, 100)

	now := time.Now().UTC()
	event := &model.MarketEvent{
		ID:                   uuid.NewString(),
		Type:                 model.EventEarnings,
		ScheduledTime:        now,
		DurationHours:        5,
		VolatilityMultiplier: d(2.0),
		AffectedAssets:       []string{"AAPL"},
		PriceImpact:          d(0.05),
		CreatedAt:            now,
	}
	if err := st.CreateEvent(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}

	s := testScheduler(st, &scriptNoise{})

	processed, err := s.Process(ctx, now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	got, _ := st.GetAsset(ctx, asset.ID)
	if !got.CurrentPrice.Equal(d(105)) {
		t.Errorf("price after +5%% impact = %s, want 105", got.CurrentPrice)
	}
	if !got.Volatility.Equal(d(0.04)) {
		t.Errorf("volatility after 2x multiplier = %s, want 0.04", got.Volatility)
	}

	// A second pass must not re-apply the same event.
	processed, err = s.Process(ctx, now)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second pass processed = %d, want 0", processed)
	}
	got, _ = st.GetAsset(ctx, asset.ID)
	if !got.CurrentPrice.Equal(d(105)) {
		t.Errorf("price changed on repeat processing: %s", got.CurrentPrice)
	}
}

func TestProcess_SkipsExpiredEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	asset := seedAsset(t, st, "AAPL", model.AssetStock, 100)

	now := time.Now().UTC()
	event := &model.MarketEvent{
		ID:                   uuid.NewString(),
		Type:                 model.EventEarnings,
		ScheduledTime:        now.Add(-10 * time.Hour),
		DurationHours:        1,
		VolatilityMultiplier: d(1.5),
		AffectedAssets:       []string{"AAPL"},
		PriceImpact:          d(0.05),
		CreatedAt:            now,
	}
	if err := st.CreateEvent(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}

	s := testScheduler(st, &scriptNoise{})
	processed, err := s.Process(ctx, now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expired event was applied: processed = %d", processed)
	}

	got, _ := st.GetAsset(ctx, asset.ID)
	if !got.CurrentPrice.Equal(d(100)) {
		t.Errorf("price changed by expired event: %s", got.CurrentPrice)
	}
}

func TestApplyImpact_FloorsPrice(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	asset := seedAsset(t, st, "PENNY", model.AssetStock, 0.011)

	s := testScheduler(st, &scriptNoise{})
	event := &model.MarketEvent{
		ID:                   uuid.NewString(),
		Type:                 model.EventMarketCrash,
		ScheduledTime:        time.Now().UTC(),
		DurationHours:        1,
		VolatilityMultiplier: d(1),
		AffectedAssets:       []string{"PENNY"},
		PriceImpact:          d(-0.1),
	}
	if err := s.ApplyImpact(ctx, event); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := st.GetAsset(ctx, asset.ID)
	if got.CurrentPrice.LessThan(d(0.01)) {
		t.Errorf("price below floor: %s", got.CurrentPrice)
	}
}
