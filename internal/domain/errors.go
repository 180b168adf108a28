package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNoLiquidity     = errors.New("no liquidity")
	ErrChaseExhausted  = errors.New("chase retries exhausted")
	ErrLedgerPaused    = errors.New("ledger paused")
	ErrDrawdownCeiling = errors.New("drawdown ceiling reached")
	ErrBrokerRejected  = errors.New("broker rejected request")
	ErrWSDisconnect    = errors.New("websocket disconnected")
)
