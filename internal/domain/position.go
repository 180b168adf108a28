package domain

import "time"

// Position is an open trading position. At most one position exists per
// symbol. The ledger hands out copies only; callers never hold a reference
// into ledger-owned state.
type Position struct {
	Symbol     string
	Direction  Direction
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
	PnL        float64
}

// UnrealizedPnL computes the mark-to-market PnL at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == DirectionSell {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// DailyStats accumulates one calendar day of trading statistics. It is
// rolled over when the date changes and survives restarts through the
// ledger store.
type DailyStats struct {
	Date            string // YYYY-MM-DD
	TotalTrades     int
	Wins            int
	Losses          int
	TotalPnL        float64
	MaxDrawdown     float64
	CurrentDrawdown float64
	Paused          bool
}

// WinRate returns wins over total trades, or 0 when no trades were made.
func (d DailyStats) WinRate() float64 {
	if d.TotalTrades == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.TotalTrades)
}
