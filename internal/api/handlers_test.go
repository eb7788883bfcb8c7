package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/candlz/market-engine/internal/engine"
	"github.com/candlz/market-engine/internal/market"
	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/portfolio"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
	"github.com/candlz/market-engine/internal/trading"
)

// stillNoise keeps prices motionless: normals collapse to their mean
// and the correlation default of zero removes the market component, so
// API-level assertions on balances are exact.
type stillNoise struct{}

func (stillNoise) StdNormal() float64               { return 0 }
func (stillNoise) Normal(mu, sigma float64) float64 { return mu }
func (stillNoise) Float64() float64                 { return 0.99 }
func (stillNoise) IntN(n int) int {
	if n > 1 {
		return 1
	}
	return 0
}

type testAPI struct {
	router http.Handler
	store  *store.MemoryStore
	coord  *engine.Coordinator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	noise := stillNoise{}

	gen := pricing.NewGenerator(noise, pricing.Params{
		ClampMin:     decimal.NewFromFloat(0.5),
		ClampMax:     decimal.NewFromFloat(2.0),
		BulkClampMin: decimal.NewFromFloat(0.1),
		BulkClampMax: decimal.NewFromFloat(10.0),
		PriceFloor:   decimal.NewFromFloat(0.01),
	})
	agg := pricing.NewAggregator(pricing.NewTable(nil, 0), noise)
	scheduler := market.NewScheduler(st, noise, market.SchedulerParams{
		Probability:   0,
		MaxConcurrent: 3,
		Catalogue:     []market.EventWeight{{Type: model.EventEarnings, Title: "Earnings", Weight: 1}},
		PriceFloor:    decimal.NewFromFloat(0.01),
	}, logger)
	trader := trading.NewEngine(st, decimal.NewFromFloat(0.001), logger)
	classifier := portfolio.NewClassifier(st, []portfolio.Tier{
		{Name: "retail_trader", Threshold: decimal.NewFromInt(1_000)},
		{Name: "active_trader", Threshold: decimal.NewFromInt(10_000)},
		{Name: "small_fund", Threshold: decimal.NewFromInt(100_000)},
	}, logger)
	valuer := portfolio.NewValuer(st, logger)

	coord := engine.New(engine.Deps{
		Store:      st,
		Generator:  gen,
		Aggregator: agg,
		Phases:     market.NewPhases(noise),
		Scheduler:  scheduler,
		Trader:     trader,
		Valuer:     valuer,
		Classifier: classifier,
		Logger:     logger,
		Interval:   time.Hour,
	})

	volatilities := map[model.AssetType]decimal.Decimal{
		model.AssetStock:  decimal.NewFromFloat(0.02),
		model.AssetCrypto: decimal.NewFromFloat(0.05),
	}
	svc := NewService(st, coord, trader, classifier, volatilities, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r, NewWSHub())
	})
	return &testAPI{router: r, store: st, coord: coord}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (a *testAPI) createPlayer(t *testing.T, capital float64) model.Player {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/players", CreatePlayerRequest{
		Username:        "trader",
		StartingCapital: decimal.NewFromFloat(capital),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[model.Player](t, rec)
}

func (a *testAPI) createAsset(t *testing.T, symbol string, price float64) model.Asset {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/assets", CreateAssetRequest{
		Symbol: symbol,
		Name:   symbol,
		Type:   model.AssetStock,
		Price:  decimal.NewFromFloat(price),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[model.Asset](t, rec)
}

func TestCreatePlayer(t *testing.T) {
	a := newTestAPI(t)

	player := a.createPlayer(t, 50_000)
	require.NotEmpty(t, player.ID)
	require.True(t, player.CashBalance.Equal(decimal.NewFromInt(50_000)))
	require.Equal(t, "active_trader", player.WealthTier)

	rec := a.do(t, http.MethodGet, "/api/v1/players/"+player.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/players/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePlayer_Validation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/players", CreatePlayerRequest{StartingCapital: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/players", CreatePlayerRequest{Username: "broke"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAsset_DefaultVolatility(t *testing.T) {
	a := newTestAPI(t)

	asset := a.createAsset(t, "AAPL", 100)
	require.True(t, asset.Volatility.Equal(decimal.NewFromFloat(0.02)),
		"stock volatility should default to 0.02, got %s", asset.Volatility)

	rec := a.do(t, http.MethodPost, "/api/v1/assets", CreateAssetRequest{
		Symbol:     "BTC",
		Name:       "Bitcoin",
		Type:       model.AssetCrypto,
		Price:      decimal.NewFromInt(50_000),
		Volatility: decimal.NewFromFloat(0.09),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	btc := decode[model.Asset](t, rec)
	require.True(t, btc.Volatility.Equal(decimal.NewFromFloat(0.09)))

	rec = a.do(t, http.MethodPost, "/api/v1/assets", CreateAssetRequest{Name: "nameless"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAssets_TypeFilter(t *testing.T) {
	a := newTestAPI(t)
	a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/assets", CreateAssetRequest{
		Symbol: "BTC", Name: "Bitcoin", Type: model.AssetCrypto, Price: decimal.NewFromInt(50_000),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]model.Asset](t, rec), 2)

	rec = a.do(t, http.MethodGet, "/api/v1/assets?type=crypto", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	filtered := decode[[]model.Asset](t, rec)
	require.Len(t, filtered, 1)
	require.Equal(t, "BTC", filtered[0].Symbol)
}

func TestPlaceOrder(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 10_000)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID,
		AssetID:  asset.ID,
		Type:     model.OrderTypeLimit,
		Side:     model.SideBuy,
		Quantity: decimal.NewFromInt(5),
		Price:    decimal.NewFromInt(95),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[model.Order](t, rec)
	require.Equal(t, model.OrderStatusPending, order.Status)

	// Structural problems map to 400.
	rec = a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: "iceberg", Side: model.SideBuy, Quantity: decimal.NewFromInt(1),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown references map to 404.
	rec = a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: uuid.NewString(), AssetID: asset.ID,
		Type: model.OrderTypeMarket, Side: model.SideBuy, Quantity: decimal.NewFromInt(1),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderLifecycleThroughTick(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 1_000)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeMarket, Side: model.SideBuy, Quantity: decimal.NewFromInt(5),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[model.Order](t, rec)

	rec = a.do(t, http.MethodPost, "/api/v1/engine/tick", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.TickSummary](t, rec)
	require.Equal(t, 1, summary.OrdersExecuted)

	rec = a.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	filled := decode[model.Order](t, rec)
	require.Equal(t, model.OrderStatusFilled, filled.Status)

	rec = a.do(t, http.MethodGet, "/api/v1/players/"+player.ID+"/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pf := decode[PortfolioResponse](t, rec)
	require.True(t, pf.Player.CashBalance.Equal(decimal.NewFromFloat(499.50)),
		"cash = %s", pf.Player.CashBalance)
	require.Len(t, pf.Positions, 1)
	require.True(t, pf.Positions[0].Quantity.Equal(decimal.NewFromInt(5)))
}

func TestFillOrder_InsufficientFundsConflict(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 100)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeMarket, Side: model.SideBuy, Quantity: decimal.NewFromInt(5),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[model.Order](t, rec)

	rec = a.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/fill", FillOrderRequest{})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestFillOrder_Partial(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 10_000)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeLimit, Side: model.SideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[model.Order](t, rec)

	rec = a.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/fill",
		FillOrderRequest{Quantity: decimal.NewFromInt(4)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	partial := decode[model.Order](t, rec)
	require.Equal(t, model.OrderStatusPartiallyFilled, partial.Status)
	require.True(t, partial.FilledQuantity.Equal(decimal.NewFromInt(4)))
}

func TestCancelOrder(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 10_000)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		PlayerID: player.ID, AssetID: asset.ID,
		Type: model.OrderTypeLimit, Side: model.SideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(90),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[model.Order](t, rec)

	rec = a.do(t, http.MethodDelete, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second cancel hits a terminal order.
	rec = a.do(t, http.MethodDelete, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePrice(t *testing.T) {
	a := newTestAPI(t)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPut, "/api/v1/assets/"+asset.ID+"/price",
		UpdatePriceRequest{Price: decimal.NewFromFloat(123.45)})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[model.Asset](t, rec)
	require.True(t, updated.CurrentPrice.Equal(decimal.NewFromFloat(123.45)))

	rec = a.do(t, http.MethodPut, "/api/v1/assets/"+asset.ID+"/price",
		UpdatePriceRequest{Price: decimal.NewFromInt(-1)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventEndpoints(t *testing.T) {
	a := newTestAPI(t)
	asset := a.createAsset(t, "AAPL", 100)

	// Missing type rejected.
	rec := a.do(t, http.MethodPost, "/api/v1/events", model.MarketEvent{AffectedAssets: []string{"AAPL"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/events", model.MarketEvent{
		Type:                 model.EventEarnings,
		Title:                "Blowout Quarter",
		VolatilityMultiplier: decimal.NewFromInt(1),
		AffectedAssets:       []string{"AAPL"},
		PriceImpact:          decimal.NewFromFloat(0.05),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]model.MarketEvent](t, rec), 1)

	// Simulated impact applies immediately.
	rec = a.do(t, http.MethodPost, "/api/v1/events/simulate", SimulateImpactRequest{
		AssetID:   asset.ID,
		EventType: model.EventBlackSwan,
		Severity:  decimal.NewFromFloat(-0.1),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID, nil)
	got := decode[model.Asset](t, rec)
	require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(90)), "price = %s", got.CurrentPrice)

	rec = a.do(t, http.MethodPost, "/api/v1/events/simulate", SimulateImpactRequest{EventType: model.EventEarnings})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineStatusAndHistory(t *testing.T) {
	a := newTestAPI(t)
	asset := a.createAsset(t, "AAPL", 100)

	rec := a.do(t, http.MethodPost, "/api/v1/engine/tick", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/engine/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[engine.Status](t, rec)
	require.Equal(t, uint64(1), status.MarketState.TickCount)
	require.Equal(t, model.PhaseNormal, status.MarketState.Phase)

	rec = a.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID+"/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]model.PriceTick](t, rec), 1)
}

func TestAvailableAssets_TierGated(t *testing.T) {
	a := newTestAPI(t)
	player := a.createPlayer(t, 1_000) // retail_trader

	// An asset gated behind a higher tier is invisible to the player.
	now := time.Now().UTC()
	for _, spec := range []struct{ symbol, tier string }{
		{"AAPL", "retail_trader"},
		{"SPICY", "small_fund"},
	} {
		require.NoError(t, a.store.CreateAsset(context.Background(), &model.Asset{
			ID:           uuid.NewString(),
			Symbol:       spec.symbol,
			Name:         spec.symbol,
			Type:         model.AssetStock,
			CurrentPrice: decimal.NewFromInt(100),
			Volatility:   decimal.NewFromFloat(0.02),
			Beta:         decimal.NewFromInt(1),
			UnlockTier:   spec.tier,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}))
	}

	rec := a.do(t, http.MethodGet, "/api/v1/players/"+player.ID+"/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assets := decode[[]model.Asset](t, rec)
	require.Len(t, assets, 1)
	require.Equal(t, "AAPL", assets[0].Symbol)
}
