package domain

import "time"

// Direction is the trade direction derived from order-flow analysis.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionNone Direction = "NONE"
)

// Opposite returns the reverse direction; NONE maps to NONE.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionNone
	}
}

// Signal is an immutable trade recommendation emitted by the flow analyzer.
// Strength is in [0,1]. Features carries the raw inputs (ofi, zscore, vwap,
// spread) that produced the signal, for audit and for the risk advisor.
type Signal struct {
	ID        string
	Symbol    string
	Direction Direction
	Strength  float64
	Entry     float64
	Stop      float64
	Target    float64
	Features  map[string]float64
	Reason    string
	CreatedAt time.Time
}
