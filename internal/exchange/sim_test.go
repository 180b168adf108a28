package exchange

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrader/flowtrader/internal/domain"
)

func TestSimBrokerOrderShapeMatchesLive(t *testing.T) {
	s := NewSimBroker(5000, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	ord, err := s.PlaceLimit(ctx, "BTCUSDT", domain.OrderSideBuy, 0.5, 50000, true)
	require.NoError(t, err)
	assert.NotEmpty(t, ord.ID)
	assert.Equal(t, "BTCUSDT", ord.Symbol)
	assert.Equal(t, domain.OrderSideBuy, ord.Side)
	assert.Equal(t, domain.OrderStatusNew, ord.Status)
	assert.True(t, ord.PostOnly)
	assert.Equal(t, 1, s.ActiveOrders())

	// First status poll reports the fill.
	status, err := s.OrderStatus(ctx, "BTCUSDT", ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status)
	assert.Zero(t, s.ActiveOrders())
}

func TestSimBrokerMarketFillsImmediately(t *testing.T) {
	s := NewSimBroker(5000, slog.New(slog.DiscardHandler))

	ord, err := s.PlaceMarket(context.Background(), "ETHUSDT", domain.OrderSideSell, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
}

func TestSimBrokerCancelAll(t *testing.T) {
	s := NewSimBroker(5000, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, _ = s.PlaceLimit(ctx, "BTCUSDT", domain.OrderSideBuy, 1, 100, true)
	_, _ = s.PlaceLimit(ctx, "BTCUSDT", domain.OrderSideBuy, 1, 99, true)
	_, _ = s.PlaceLimit(ctx, "ETHUSDT", domain.OrderSideSell, 1, 200, true)

	require.NoError(t, s.CancelAll(ctx, "BTCUSDT"))
	assert.Equal(t, 1, s.ActiveOrders())
}

func TestSimBrokerBalances(t *testing.T) {
	s := NewSimBroker(5000, slog.New(slog.DiscardHandler))

	total, err := s.Balance(context.Background())
	require.NoError(t, err)
	avail, err := s.AvailableBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, avail)
	assert.InDelta(t, 5000.0, total, 1e-9)
}
