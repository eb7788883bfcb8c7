package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/engine"
	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/portfolio"
	"github.com/candlz/market-engine/internal/store"
	"github.com/candlz/market-engine/internal/trading"
)

// Service exposes the engine over HTTP.
type Service struct {
	store       store.Store
	coordinator *engine.Coordinator
	trader      *trading.Engine
	classifier  *portfolio.Classifier
	// volatilities supplies per-type defaults for assets created
	// without an explicit volatility.
	volatilities map[model.AssetType]decimal.Decimal
	logger       *slog.Logger
}

// NewService creates the HTTP service.
func NewService(st store.Store, c *engine.Coordinator, t *trading.Engine, cl *portfolio.Classifier, volatilities map[model.AssetType]decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{store: st, coordinator: c, trader: t, classifier: cl, volatilities: volatilities, logger: logger}
}

// Routes mounts all handlers under /api/v1.
func (s *Service) Routes(r chi.Router, hub *WSHub) {
	r.Get("/ws", hub.HandleWS)

	// Engine control.
	r.Post("/engine/start", s.StartEngine)
	r.Post("/engine/stop", s.StopEngine)
	r.Post("/engine/tick", s.RunTick)
	r.Get("/engine/status", s.EngineStatus)
	r.Get("/engine/analytics", s.Analytics)

	// Assets and market data.
	r.Post("/assets", s.CreateAsset)
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Get("/assets/{assetID}/history", s.PriceHistory)
	r.Get("/assets/{assetID}/returns", s.ReturnStats)
	r.Put("/assets/{assetID}/price", s.UpdatePrice)

	// Events.
	r.Post("/events", s.InjectEvent)
	r.Get("/events", s.ListEvents)
	r.Post("/events/simulate", s.SimulateImpact)

	// Trading.
	r.Post("/orders", s.PlaceOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Post("/orders/{orderID}/fill", s.FillOrder)

	// Players and portfolios.
	r.Post("/players", s.CreatePlayer)
	r.Get("/players/{playerID}", s.GetPlayer)
	r.Get("/players/{playerID}/portfolio", s.GetPortfolio)
	r.Get("/players/{playerID}/orders", s.PlayerOrders)
	r.Get("/players/{playerID}/assets", s.AvailableAssets)
}

// --- Engine control ---

// StartEngine handles POST /api/v1/engine/start. Idempotent.
func (s *Service) StartEngine(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Start()
	WriteJSON(w, http.StatusOK, map[string]bool{"running": true})
}

// StopEngine handles POST /api/v1/engine/stop. Idempotent.
func (s *Service) StopEngine(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Stop()
	WriteJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// RunTick handles POST /api/v1/engine/tick: one manual simulation
// step, serialized with the background loop.
func (s *Service) RunTick(w http.ResponseWriter, r *http.Request) {
	summary := s.coordinator.Tick(r.Context())
	WriteJSON(w, http.StatusOK, summary)
}

// EngineStatus handles GET /api/v1/engine/status.
func (s *Service) EngineStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.coordinator.Status(r.Context()))
}

// Analytics handles GET /api/v1/engine/analytics.
func (s *Service) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.coordinator.Analytics(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, analytics)
}

// --- Assets ---

// CreateAssetRequest is the JSON body for asset creation.
type CreateAssetRequest struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Type       model.AssetType `json:"asset_type"`
	Price      decimal.Decimal `json:"price"`
	Volatility decimal.Decimal `json:"volatility"` // 0 → type default
	UnlockTier string          `json:"unlock_tier"`
}

// CreateAsset handles POST /api/v1/assets.
func (s *Service) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.Name == "" {
		writeError(w, "symbol and name are required", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	if !req.Volatility.IsPositive() {
		req.Volatility = s.volatilities[req.Type]
	}

	now := time.Now().UTC()
	asset := &model.Asset{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Name:         req.Name,
		Type:         req.Type,
		CurrentPrice: req.Price,
		Volatility:   req.Volatility,
		Beta:         decimal.NewFromInt(1),
		UnlockTier:   req.UnlockTier,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.logger.Info("asset created", "symbol", asset.Symbol, "type", asset.Type)
	WriteJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/v1/assets, optionally filtered by ?type=.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var assets []model.Asset
	var err error
	if t := r.URL.Query().Get("type"); t != "" {
		assets, err = s.store.ListAssetsByType(ctx, model.AssetType(t))
	} else {
		assets, err = s.store.ListActiveAssets(ctx)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	WriteJSON(w, http.StatusOK, assets)
}

// GetAsset handles GET /api/v1/assets/{assetID}.
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.store.GetAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, asset)
}

// PriceHistory handles GET /api/v1/assets/{assetID}/history?limit=.
func (s *Service) PriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	ticks, err := s.store.ListPriceTicks(r.Context(), chi.URLParam(r, "assetID"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if ticks == nil {
		ticks = []model.PriceTick{}
	}
	WriteJSON(w, http.StatusOK, ticks)
}

// ReturnStats handles GET /api/v1/assets/{assetID}/returns?window=.
func (s *Service) ReturnStats(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))
	stats, err := s.coordinator.AssetReturnStats(r.Context(), chi.URLParam(r, "assetID"), window)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// UpdatePriceRequest is the JSON body for manual price overrides.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// UpdatePrice handles PUT /api/v1/assets/{assetID}/price.
func (s *Service) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	asset, err := s.coordinator.UpdateAssetPrice(r.Context(), chi.URLParam(r, "assetID"), req.Price)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, asset)
}

// --- Events ---

// InjectEvent handles POST /api/v1/events: persists an admin-supplied
// event that applies on the next tick.
func (s *Service) InjectEvent(w http.ResponseWriter, r *http.Request) {
	var event model.MarketEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if event.Type == "" || len(event.AffectedAssets) == 0 {
		writeError(w, "event_type and affected_assets are required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.InjectEvent(r.Context(), &event); err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /api/v1/events (currently active).
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListActiveEvents(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []model.MarketEvent{}
	}
	WriteJSON(w, http.StatusOK, events)
}

// SimulateImpactRequest is the JSON body for POST /events/simulate.
type SimulateImpactRequest struct {
	AssetID   string          `json:"asset_id"`
	EventType string          `json:"event_type"`
	Severity  decimal.Decimal `json:"severity"` // signed fraction, clamped to ±0.1
}

// SimulateImpact handles POST /api/v1/events/simulate: applies a
// synthetic shock immediately without persisting an event.
func (s *Service) SimulateImpact(w http.ResponseWriter, r *http.Request) {
	var req SimulateImpactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		writeError(w, "asset_id is required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.SimulateEventImpact(r.Context(), req.AssetID, req.EventType, req.Severity); err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

// --- Trading ---

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	PlayerID  string          `json:"player_id"`
	AssetID   string          `json:"asset_id"`
	Type      string          `json:"order_type"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price,omitempty"`
	StopPrice decimal.Decimal `json:"stop_price,omitempty"`
}

// PlaceOrder handles POST /api/v1/orders. The order rests until the
// next tick whose price satisfies its trigger.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order := &model.Order{
		PlayerID:  req.PlayerID,
		AssetID:   req.AssetID,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
	}

	if err := s.trader.PlaceOrder(r.Context(), order); err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.trader.CancelOrder(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": model.OrderStatusCancelled})
}

// FillOrderRequest is the JSON body for the admin fill endpoint.
type FillOrderRequest struct {
	Quantity decimal.Decimal `json:"quantity"` // 0 → full remaining
}

// FillOrder handles POST /api/v1/orders/{orderID}/fill: an admin
// fill at the asset's current price, optionally partial.
func (s *Service) FillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	asset, err := s.store.GetAsset(ctx, order.AssetID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	qty := req.Quantity
	if !qty.IsPositive() {
		qty = order.Remaining()
	}
	executed, err := s.trader.ExecuteOrder(ctx, orderID, asset.CurrentPrice, req.Quantity, now)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if executed {
		if err := s.trader.ApplyOrderImpact(ctx, order, qty, now); err != nil {
			s.logger.Warn("order impact failed", "order_id", orderID, "err", err)
		}
	}

	order, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"executed": executed, "order": order})
}

// --- Players ---

// CreatePlayerRequest is the JSON body for POST /players.
type CreatePlayerRequest struct {
	Username        string          `json:"username"`
	StartingCapital decimal.Decimal `json:"starting_capital"`
}

// CreatePlayer handles POST /api/v1/players.
func (s *Service) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}
	if !req.StartingCapital.IsPositive() {
		writeError(w, "starting_capital must be positive", http.StatusBadRequest)
		return
	}

	player := &model.Player{
		ID:              uuid.NewString(),
		Username:        req.Username,
		CashBalance:     req.StartingCapital,
		PortfolioValue:  req.StartingCapital,
		WealthTier:      s.classifier.Classify(req.StartingCapital),
		StartingCapital: req.StartingCapital,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.CreatePlayer(r.Context(), player); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.logger.Info("player created", "player_id", player.ID, "username", player.Username)
	WriteJSON(w, http.StatusCreated, player)
}

// GetPlayer handles GET /api/v1/players/{playerID}.
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.store.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, player)
}

// PortfolioResponse is the JSON body for GET /players/{id}/portfolio.
type PortfolioResponse struct {
	Player    *model.Player    `json:"player"`
	Positions []model.Position `json:"positions"`
}

// GetPortfolio handles GET /api/v1/players/{playerID}/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	playerID := chi.URLParam(r, "playerID")

	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	positions, err := s.store.ListPositionsByPlayer(ctx, playerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	WriteJSON(w, http.StatusOK, PortfolioResponse{Player: player, Positions: positions})
}

// PlayerOrders handles GET /api/v1/players/{playerID}/orders.
func (s *Service) PlayerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrdersByPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	WriteJSON(w, http.StatusOK, orders)
}

// AvailableAssets handles GET /api/v1/players/{playerID}/assets:
// assets the player's wealth tier has unlocked.
func (s *Service) AvailableAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	player, err := s.store.GetPlayer(ctx, chi.URLParam(r, "playerID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	assets, err := s.store.ListAvailableAssets(ctx, s.classifier.TierNames(player.WealthTier))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	WriteJSON(w, http.StatusOK, assets)
}

// --- Helpers ---

// writeDomainError maps domain errors to HTTP status codes.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	var validation *trading.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, trading.ErrInsufficientFunds),
		errors.Is(err, trading.ErrInsufficientPosition):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
