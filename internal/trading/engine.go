package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
)

// Sentinel errors for account-state failures. Callers branch with
// errors.Is.
var (
	ErrInsufficientFunds    = errors.New("trading: insufficient funds")
	ErrInsufficientPosition = errors.New("trading: insufficient position")
)

// Engine executes orders. It holds no market state of its own; the
// coordinator serializes calls to it within the tick lock.
type Engine struct {
	store          store.Store
	commissionRate decimal.Decimal
	logger         *slog.Logger
}

// NewEngine creates a trading engine with the given commission rate.
func NewEngine(st store.Store, commissionRate decimal.Decimal, logger *slog.Logger) *Engine {
	return &Engine{store: st, commissionRate: commissionRate, logger: logger}
}

// PlaceOrder validates and persists a new order in pending state. The
// order executes on the next tick that satisfies its trigger; market
// orders trigger unconditionally.
func (e *Engine) PlaceOrder(ctx context.Context, o *model.Order) error {
	if err := ValidateOrder(o); err != nil {
		return err
	}

	if _, err := e.store.GetPlayer(ctx, o.PlayerID); err != nil {
		return fmt.Errorf("order player: %w", err)
	}
	if _, err := e.store.GetAsset(ctx, o.AssetID); err != nil {
		return fmt.Errorf("order asset: %w", err)
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = model.OrderStatusPending
	o.FilledQuantity = decimal.Zero
	o.AvgFillPrice = decimal.Zero
	o.Commission = decimal.Zero
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	if err := e.store.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	e.logger.Info("order placed",
		"order_id", o.ID,
		"player_id", o.PlayerID,
		"type", o.Type,
		"side", o.Side,
		"quantity", o.Quantity.String())
	return nil
}

// CancelOrder moves an open order to cancelled. Terminal orders return
// a ValidationError.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.IsOpen() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("cannot cancel %s order", o.Status)}
	}
	return e.store.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled)
}

// ShouldTrigger reports whether an order executes at the given price.
// The table is strict: an unknown order type never triggers.
//
//	market:     always
//	limit:      buy at price ≤ limit, sell at price ≥ limit
//	stop:       buy at price ≥ stop,  sell at price ≤ stop
//	stop_limit: stop condition first, then the limit condition
func ShouldTrigger(o *model.Order, currentPrice decimal.Decimal) bool {
	switch o.Type {
	case model.OrderTypeMarket:
		return true
	case model.OrderTypeLimit:
		if o.Side == model.SideBuy {
			return currentPrice.LessThanOrEqual(o.Price)
		}
		return currentPrice.GreaterThanOrEqual(o.Price)
	case model.OrderTypeStop:
		if o.Side == model.SideBuy {
			return currentPrice.GreaterThanOrEqual(o.StopPrice)
		}
		return currentPrice.LessThanOrEqual(o.StopPrice)
	case model.OrderTypeStopLimit:
		if o.Side == model.SideBuy {
			return currentPrice.GreaterThanOrEqual(o.StopPrice) &&
				currentPrice.LessThanOrEqual(o.Price)
		}
		return currentPrice.LessThanOrEqual(o.StopPrice) &&
			currentPrice.GreaterThanOrEqual(o.Price)
	default:
		return false
	}
}

// ExecuteOrder fills an open order at the given price. fillQuantity
// zero means fill the full remaining quantity; the admin path passes a
// partial quantity. The fill is idempotent per order: the order is
// re-read and re-checked inside the same step, so a second invocation
// on a filled order is a no-op.
//
// Insufficient funds or position reject market orders; resting orders
// stay open to retry when account state changes. Both cases return the
// matching sentinel error.
func (e *Engine) ExecuteOrder(ctx context.Context, orderID string, fillPrice, fillQuantity decimal.Decimal, now time.Time) (bool, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !o.IsOpen() {
		return false, nil
	}

	fillQty := o.Remaining()
	if fillQuantity.IsPositive() && fillQuantity.LessThan(fillQty) {
		fillQty = fillQuantity
	}
	if !fillQty.IsPositive() {
		return false, nil
	}

	player, err := e.store.GetPlayer(ctx, o.PlayerID)
	if err != nil {
		return false, fmt.Errorf("fill player: %w", err)
	}

	commission := fillQty.Mul(fillPrice).Mul(e.commissionRate).Round(pricing.PriceScale)

	app := store.FillApplication{Player: player}

	if o.Side == model.SideBuy {
		totalCost := fillQty.Mul(fillPrice).Add(commission)
		if player.CashBalance.LessThan(totalCost) {
			return false, e.rejectIfMarket(ctx, o,
				fmt.Errorf("order %s needs %s, has %s: %w",
					o.ID, totalCost.String(), player.CashBalance.String(), ErrInsufficientFunds))
		}
		player.CashBalance = player.CashBalance.Sub(totalCost)

		position, err := e.buyPosition(ctx, o, fillQty, fillPrice, now)
		if err != nil {
			return false, err
		}
		app.Position = position
	} else {
		position, remove, err := e.sellPosition(ctx, o, fillQty, fillPrice, now)
		if err != nil {
			return false, e.rejectIfMarket(ctx, o, err)
		}
		proceeds := fillQty.Mul(fillPrice).Sub(commission)
		player.CashBalance = player.CashBalance.Add(proceeds)
		app.Position = position
		app.RemovePosition = remove
		app.PositionKey = store.PositionKey{PlayerID: o.PlayerID, AssetID: o.AssetID}
	}

	prevFilled := o.FilledQuantity
	o.FilledQuantity = prevFilled.Add(fillQty)
	if prevFilled.IsPositive() {
		// Quantity-weighted average across fills.
		o.AvgFillPrice = prevFilled.Mul(o.AvgFillPrice).
			Add(fillQty.Mul(fillPrice)).
			Div(o.FilledQuantity).
			Round(pricing.PriceScale)
	} else {
		o.AvgFillPrice = fillPrice
	}
	o.Commission = o.Commission.Add(commission)
	o.ExecutedAt = now
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = model.OrderStatusFilled
	} else {
		o.Status = model.OrderStatusPartiallyFilled
	}
	app.Order = o

	if err := e.store.ApplyFill(ctx, app); err != nil {
		// A concurrent fill won the race and closed the order; this
		// one lands nothing.
		if errors.Is(err, store.ErrOrderClosed) {
			return false, nil
		}
		return false, fmt.Errorf("apply fill: %w", err)
	}

	e.logger.Info("order executed",
		"order_id", o.ID,
		"side", o.Side,
		"quantity", fillQty.String(),
		"price", fillPrice.String(),
		"commission", commission.String(),
		"status", o.Status)
	return true, nil
}

// rejectIfMarket rejects market orders on account-state failures;
// resting order types stay open and the error propagates for the tick
// error log.
func (e *Engine) rejectIfMarket(ctx context.Context, o *model.Order, cause error) error {
	if o.Type != model.OrderTypeMarket {
		return cause
	}
	if err := e.store.UpdateOrderStatus(ctx, o.ID, model.OrderStatusRejected); err != nil {
		return fmt.Errorf("reject order: %w (cause: %v)", err, cause)
	}
	e.logger.Warn("market order rejected", "order_id", o.ID, "cause", cause.Error())
	return cause
}

// buyPosition extends or creates the player's position with
// weighted-average purchase price.
func (e *Engine) buyPosition(ctx context.Context, o *model.Order, qty, price decimal.Decimal, now time.Time) (*model.Position, error) {
	cost := qty.Mul(price)

	position, err := e.store.GetPosition(ctx, o.PlayerID, o.AssetID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Position{
			PlayerID:         o.PlayerID,
			AssetID:          o.AssetID,
			Quantity:         qty,
			AvgPurchasePrice: price,
			TotalInvested:    cost,
			CurrentValue:     cost,
			FirstPurchase:    now,
			LastUpdated:      now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fill position: %w", err)
	}

	newInvested := position.TotalInvested.Add(cost)
	newQuantity := position.Quantity.Add(qty)
	position.AvgPurchasePrice = newInvested.Div(newQuantity).Round(pricing.PriceScale)
	position.Quantity = newQuantity
	position.TotalInvested = newInvested
	position.CurrentValue = newQuantity.Mul(price)
	position.UnrealizedPnL = position.CurrentValue.Sub(newInvested)
	position.LastUpdated = now
	return position, nil
}

// sellPosition reduces the player's position, accruing realized P&L
// against the average purchase price. Returns remove=true when the
// position empties.
func (e *Engine) sellPosition(ctx context.Context, o *model.Order, qty, price decimal.Decimal, now time.Time) (*model.Position, bool, error) {
	position, err := e.store.GetPosition(ctx, o.PlayerID, o.AssetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("order %s has no position in %s: %w", o.ID, o.AssetID, ErrInsufficientPosition)
	}
	if err != nil {
		return nil, false, fmt.Errorf("fill position: %w", err)
	}
	if position.Quantity.LessThan(qty) {
		return nil, false, fmt.Errorf("order %s sells %s, holds %s: %w",
			o.ID, qty.String(), position.Quantity.String(), ErrInsufficientPosition)
	}

	realized := qty.Mul(price.Sub(position.AvgPurchasePrice))
	position.RealizedPnL = position.RealizedPnL.Add(realized)
	position.TotalInvested = position.TotalInvested.Sub(qty.Mul(position.AvgPurchasePrice))
	position.Quantity = position.Quantity.Sub(qty)
	position.LastUpdated = now

	if position.Quantity.IsZero() {
		return nil, true, nil
	}

	position.CurrentValue = position.Quantity.Mul(price)
	position.UnrealizedPnL = position.CurrentValue.Sub(position.TotalInvested)
	return position, false, nil
}

// ExecutePending walks every open order, executing those whose trigger
// condition holds at the asset's current price. A failing order is
// logged and skipped; the sweep continues. Returns the executed count
// and the collected non-fatal errors.
func (e *Engine) ExecutePending(ctx context.Context, now time.Time) (int, []error) {
	orders, err := e.store.ListOpenOrders(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("list open orders: %w", err)}
	}

	executed := 0
	var errs []error
	for i := range orders {
		o := &orders[i]
		asset, err := e.store.GetAsset(ctx, o.AssetID)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s asset: %w", o.ID, err))
			continue
		}
		if !ShouldTrigger(o, asset.CurrentPrice) {
			continue
		}
		qty := o.Remaining()
		ok, err := e.ExecuteOrder(ctx, o.ID, asset.CurrentPrice, decimal.Zero, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			executed++
			if err := e.ApplyOrderImpact(ctx, o, qty, now); err != nil {
				errs = append(errs, fmt.Errorf("order %s impact: %w", o.ID, err))
			}
		}
	}
	return executed, errs
}

// maxOrderImpact caps a single order's price impact at ±5%.
var maxOrderImpact = decimal.NewFromFloat(0.05)

// SimulateImpact estimates the price impact fraction of a player order
// from its value relative to a liquidity proxy, scaled by the player's
// wealth (larger players move markets more) and capped at ±5%. Sells
// push the price down.
func (e *Engine) SimulateImpact(asset *model.Asset, quantity decimal.Decimal, side string, playerWealth decimal.Decimal) decimal.Decimal {
	liquidity := asset.CurrentPrice.Mul(decimal.NewFromInt(1_000_000))
	if !liquidity.IsPositive() {
		return decimal.Zero
	}

	orderValue := quantity.Mul(asset.CurrentPrice)
	impactFactor := orderValue.Div(liquidity)

	wealthMultiplier := playerWealth.Div(decimal.NewFromInt(1_000_000)).InexactFloat64()
	if wealthMultiplier > 10 {
		wealthMultiplier = 10
	}
	if wealthMultiplier < 0 {
		wealthMultiplier = 0
	}

	impact := impactFactor.
		Mul(decimal.NewFromFloat(wealthMultiplier)).
		Mul(decimal.NewFromFloat(0.1))
	if side == model.SideSell {
		impact = impact.Neg()
	}

	if impact.GreaterThan(maxOrderImpact) {
		return maxOrderImpact
	}
	if impact.LessThan(maxOrderImpact.Neg()) {
		return maxOrderImpact.Neg()
	}
	return impact.Round(pricing.PriceScale)
}

// ApplyOrderImpact nudges the asset price after a fill, in proportion
// to the fill size and the player's wealth. Impacts that round to zero
// (the common case for small accounts) write nothing.
func (e *Engine) ApplyOrderImpact(ctx context.Context, o *model.Order, fillQty decimal.Decimal, now time.Time) error {
	asset, err := e.store.GetAsset(ctx, o.AssetID)
	if err != nil {
		return fmt.Errorf("impact asset: %w", err)
	}
	player, err := e.store.GetPlayer(ctx, o.PlayerID)
	if err != nil {
		return fmt.Errorf("impact player: %w", err)
	}

	wealth := player.PortfolioValue
	if !wealth.IsPositive() {
		wealth = player.CashBalance
	}
	impact := e.SimulateImpact(asset, fillQty, o.Side, wealth)
	if impact.IsZero() {
		return nil
	}

	newPrice := asset.CurrentPrice.
		Mul(decimal.NewFromInt(1).Add(impact)).
		Round(pricing.PriceScale)
	if err := e.store.UpdateAssetMarket(ctx, o.AssetID, newPrice, nil, now); err != nil {
		return fmt.Errorf("impact price: %w", err)
	}

	e.logger.Info("order impact applied",
		"order_id", o.ID,
		"asset", asset.Symbol,
		"impact", impact.String(),
		"price", newPrice.String())
	return nil
}
