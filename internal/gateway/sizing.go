package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"leverbot/internal/admission"
	"leverbot/internal/domain"
	"leverbot/internal/metrics"
	"leverbot/internal/ports"
)

// OpenRequest asks the gateway to establish a new position.
type OpenRequest struct {
	Symbol          string
	Side            domain.Side
	Quantity        float64 // Risk-engine recommended size in base units
	Price           float64 // Reference price for margin/notional math
	Leverage        float64
	AvailableMargin float64 // Free balance usable as margin
}

// OpenPosition validates the request against the venue's filters and the
// account's margin, then places the entry market order. The size is only ever
// adjusted downward; the quantity actually submitted is returned alongside
// the order response.
func (g *Gateway) OpenPosition(ctx context.Context, req OpenRequest) (*ports.OrderResponse, float64, error) {
	if req.Quantity <= 0 || req.Price <= 0 || req.Leverage <= 0 {
		return nil, 0, fmt.Errorf("open %s: %w: quantity, price and leverage must be positive", req.Symbol, ports.ErrInvalidRequest)
	}

	filters, err := g.SymbolFilters(ctx, req.Symbol, admission.Critical)
	if err != nil {
		return nil, 0, err
	}

	qtyStr, qty, err := g.validateSize(ctx, req, filters)
	if err != nil {
		return nil, 0, err
	}

	var resp *ports.OrderResponse
	err = g.call(ctx, "open_position", admission.Critical, func(ctx context.Context) error {
		var err error
		resp, err = g.client.PlaceMarketOrder(ctx, req.Symbol, req.Side.EntrySide(), qtyStr, newClientOrderID(), false)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return resp, qty, nil
}

// validateSize caps the requested quantity to the venue maximum and to what
// the available margin supports, rounds down to the quantity step, and
// rejects orders below the venue minimums.
func (g *Gateway) validateSize(ctx context.Context, req OpenRequest, f *ports.SymbolFilters) (string, float64, error) {
	qty := req.Quantity
	contractSize := f.ContractSize
	if contractSize <= 0 {
		contractSize = 1
	}

	if f.MaxQuantity > 0 && qty > f.MaxQuantity {
		g.logger.Warn(ctx, "order size capped to venue maximum", map[string]interface{}{
			"symbol": req.Symbol, "requested": req.Quantity, "capped": f.MaxQuantity,
		})
		qty = f.MaxQuantity
	}

	requiredMargin := qty * req.Price * contractSize / req.Leverage
	if req.AvailableMargin > 0 && requiredMargin > req.AvailableMargin {
		qty = req.AvailableMargin * req.Leverage / (req.Price * contractSize)
		g.logger.Warn(ctx, "order size capped to available margin", map[string]interface{}{
			"symbol": req.Symbol, "requested": req.Quantity, "capped": qty,
			"requiredMargin": requiredMargin, "availableMargin": req.AvailableMargin,
		})
	}

	step, err := decimal.NewFromString(f.QuantityStep)
	if err != nil || step.IsZero() {
		return "", 0, fmt.Errorf("open %s: %w: invalid quantity step %q", req.Symbol, ports.ErrInvalidRequest, f.QuantityStep)
	}
	rounded := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	finalQty, _ := rounded.Float64()

	if finalQty < f.MinQuantity || finalQty <= 0 {
		metrics.TradesRejected.WithLabelValues(string(domain.RejectZeroSize)).Inc()
		return "", 0, fmt.Errorf("open %s: %w: size %.8f below venue minimum %.8f", req.Symbol, ports.ErrInvalidRequest, finalQty, f.MinQuantity)
	}
	if f.MinNotional > 0 && finalQty*req.Price < f.MinNotional {
		metrics.TradesRejected.WithLabelValues(string(domain.RejectZeroSize)).Inc()
		return "", 0, fmt.Errorf("open %s: %w: notional %.2f below venue minimum %.2f", req.Symbol, ports.ErrInvalidRequest, finalQty*req.Price, f.MinNotional)
	}

	return rounded.String(), finalQty, nil
}

// FormatQuantity rounds a quantity down to the symbol's step and renders it
// for the venue API. Used for reduce-only orders against existing positions.
func (g *Gateway) FormatQuantity(ctx context.Context, symbol string, qty float64) (string, error) {
	filters, err := g.SymbolFilters(ctx, symbol, admission.Critical)
	if err != nil {
		return "", err
	}
	step, err := decimal.NewFromString(filters.QuantityStep)
	if err != nil || step.IsZero() {
		return "", fmt.Errorf("format %s: %w: invalid quantity step %q", symbol, ports.ErrInvalidRequest, filters.QuantityStep)
	}
	return decimal.NewFromFloat(qty).Div(step).Floor().Mul(step).String(), nil
}
