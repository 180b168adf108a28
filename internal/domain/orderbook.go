package domain

import "time"

// BookSnapshot is the latest top-of-book state for a symbol. It is ephemeral:
// each update replaces the previous one, and no history is retained here.
type BookSnapshot struct {
	Symbol    string
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Timestamp time.Time
}

// Valid reports whether both sides of the book are populated.
func (s BookSnapshot) Valid() bool {
	return s.BidPrice > 0 && s.AskPrice > 0 && s.BidSize > 0 && s.AskSize > 0
}

// Mid returns the mid price, or 0 when either side is missing.
func (s BookSnapshot) Mid() float64 {
	if s.BidPrice <= 0 || s.AskPrice <= 0 {
		return 0
	}
	return (s.BidPrice + s.AskPrice) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the best bid,
// or 0 when the book is empty.
func (s BookSnapshot) SpreadPct() float64 {
	if s.BidPrice <= 0 || s.AskPrice <= 0 {
		return 0
	}
	return (s.AskPrice - s.BidPrice) / s.BidPrice * 100
}

// Bar is a closed OHLCV candle delivered by the market-data feed.
type Bar struct {
	Symbol   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
