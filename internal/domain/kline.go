package domain

import "time"

// Kline represents a single candlestick data point, used by the signal
// collaborator boundary and the volatility estimate.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
