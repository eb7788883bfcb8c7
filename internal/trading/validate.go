// Package trading validates and executes player orders against the
// simulated market. Fills are atomic: order, cash and position mutate
// together through the store or not at all.
package trading

import (
	"fmt"

	"github.com/candlz/market-engine/internal/model"
)

// ValidationError reports a structurally invalid order. It is distinct
// from the funds and position errors, which concern account state
// rather than the order itself.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

var validOrderTypes = map[string]bool{
	model.OrderTypeMarket:    true,
	model.OrderTypeLimit:     true,
	model.OrderTypeStop:      true,
	model.OrderTypeStopLimit: true,
}

// ValidateOrder checks the structural rules for a new order: known
// type and side, positive quantity, a limit price on limit and
// stop-limit orders, and a stop price on stop and stop-limit orders.
func ValidateOrder(o *model.Order) error {
	if !validOrderTypes[o.Type] {
		return &ValidationError{Field: "order_type", Reason: fmt.Sprintf("unknown type %q", o.Type)}
	}
	if o.Side != model.SideBuy && o.Side != model.SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", o.Side)}
	}
	if o.PlayerID == "" {
		return &ValidationError{Field: "player_id", Reason: "is required"}
	}
	if o.AssetID == "" {
		return &ValidationError{Field: "asset_id", Reason: "is required"}
	}
	if !o.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	needsPrice := o.Type == model.OrderTypeLimit || o.Type == model.OrderTypeStopLimit
	if needsPrice && !o.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("is required for %s orders", o.Type)}
	}

	needsStop := o.Type == model.OrderTypeStop || o.Type == model.OrderTypeStopLimit
	if needsStop && !o.StopPrice.IsPositive() {
		return &ValidationError{Field: "stop_price", Reason: fmt.Sprintf("is required for %s orders", o.Type)}
	}

	return nil
}
