package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// SimBroker implements domain.BrokerClient without touching an exchange.
// Orders carry the same fields as live orders so the layers above cannot
// tell the modes apart. Limit orders are born NEW and report FILLED on the
// first status poll; market orders fill immediately.
type SimBroker struct {
	mu      sync.Mutex
	active  map[string]domain.Order // orderID -> order
	balance float64
	logger  *slog.Logger
}

// NewSimBroker creates a simulator seeded with the given quote balance.
func NewSimBroker(balance float64, logger *slog.Logger) *SimBroker {
	if balance <= 0 {
		balance = 10_000
	}
	return &SimBroker{
		active:  make(map[string]domain.Order),
		balance: balance,
		logger:  logger.With(slog.String("component", "sim_broker")),
	}
}

// PlaceLimit records a resting limit order.
func (s *SimBroker) PlaceLimit(_ context.Context, symbol string, side domain.OrderSide, qty, price float64, postOnly bool) (domain.Order, error) {
	ord := domain.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		PostOnly:  postOnly,
		Status:    domain.OrderStatusNew,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.active[ord.ID] = ord
	s.mu.Unlock()

	s.logger.Debug("sim limit order placed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("qty", qty))
	return ord, nil
}

// PlaceMarket fills immediately.
func (s *SimBroker) PlaceMarket(_ context.Context, symbol string, side domain.OrderSide, qty float64) (domain.Order, error) {
	ord := domain.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Status:    domain.OrderStatusFilled,
		CreatedAt: time.Now().UTC(),
	}

	s.logger.Debug("sim market order filled",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", qty))
	return ord, nil
}

// Cancel drops the order from the active set. Unknown orders are fine: the
// live exchange also tolerates cancelling an already-dead order.
func (s *SimBroker) Cancel(_ context.Context, _ string, orderID string) error {
	s.mu.Lock()
	delete(s.active, orderID)
	s.mu.Unlock()
	return nil
}

// CancelAll drops every active order on the symbol.
func (s *SimBroker) CancelAll(_ context.Context, symbol string) error {
	s.mu.Lock()
	for id, ord := range s.active {
		if ord.Symbol == symbol {
			delete(s.active, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// OrderStatus reports FILLED for any order: simulated fills are instant.
func (s *SimBroker) OrderStatus(_ context.Context, _ string, orderID string) (domain.OrderStatus, error) {
	s.mu.Lock()
	delete(s.active, orderID)
	s.mu.Unlock()
	return domain.OrderStatusFilled, nil
}

// Balance returns the configured simulation balance.
func (s *SimBroker) Balance(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// AvailableBalance matches Balance: the simulator does not model margin.
func (s *SimBroker) AvailableBalance(ctx context.Context) (float64, error) {
	return s.Balance(ctx)
}

// ActiveOrders reports how many orders are resting, for tests and status
// endpoints.
func (s *SimBroker) ActiveOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Compile-time interface check.
var _ domain.BrokerClient = (*SimBroker)(nil)
