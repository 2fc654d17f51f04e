package ports

import (
	"context"
	"time"

	"leverbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64
	Symbol        string
	ClientOrderID string
	AvgPrice      float64 // Average filled price
	OrigQuantity  float64
	ExecutedQty   float64
	Status        string // Order status (e.g., NEW, FILLED)
	Side          string
	ReduceOnly    bool
	Timestamp     time.Time
}

// SymbolFilters carries the venue's trading constraints for one symbol.
type SymbolFilters struct {
	Symbol       string
	QuantityStep string  // Step size for quantity, as published (e.g., "0.001")
	MinQuantity  float64 // Minimum order quantity
	MaxQuantity  float64 // Maximum order quantity
	MinNotional  float64 // Minimum order notional value
	MaxLeverage  int     // Maximum leverage allowed
	ContractSize float64 // Contract multiplier (1 for linear perpetuals)
}

// ExchangeClient defines the interface for interacting with a derivatives
// exchange. The gateway is its only caller; everything above the gateway sees
// the gateway's own resilient API instead.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the available balance for an asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder places a market order. A true reduceOnly flag marks the
	// order as position-reducing so it can never open new exposure.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, clientOrderID string, reduceOnly bool) (*OrderResponse, error)

	// GetSymbolFilters retrieves the venue's trading constraints for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// GetKlines retrieves recent candlestick data for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
