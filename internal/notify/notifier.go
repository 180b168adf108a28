// Package notify pushes trading events to operators. Events fan out to all
// configured senders (Telegram, Discord) and pass through an event filter so
// a channel can subscribe to fills only, or to emergencies only. Delivery is
// best effort: a failed send is logged and never fails the trading path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Event types emitted by the trading loop.
const (
	EventTradeOpen     = "trade_open"
	EventTradeClose    = "trade_close"
	EventEmergencyStop = "emergency_stop"
	EventDrawdownPause = "drawdown_pause"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs.
	Name() string
}

// Notifier fans events out to its senders, filtered by event type. An empty
// filter allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only event
// types listed in events pass the filter; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeOpened announces a new position.
func (n *Notifier) TradeOpened(ctx context.Context, pos domain.Position, reason string) {
	n.notify(ctx, EventTradeOpen,
		fmt.Sprintf("Opened %s %s", pos.Direction, pos.Symbol),
		fmt.Sprintf("entry %.4f qty %.4f stop %.4f target %.4f\n%s",
			pos.EntryPrice, pos.Quantity, pos.StopLoss, pos.TakeProfit, reason))
}

// TradeClosed announces a close with its realized pnl.
func (n *Notifier) TradeClosed(ctx context.Context, pos domain.Position, exitPrice, pnl float64, reason string) {
	n.notify(ctx, EventTradeClose,
		fmt.Sprintf("Closed %s %s", pos.Direction, pos.Symbol),
		fmt.Sprintf("exit %.4f pnl %+.2f\n%s", exitPrice, pnl, reason))
}

// DrawdownPaused announces that the ledger stopped opening positions for the
// rest of the day.
func (n *Notifier) DrawdownPaused(ctx context.Context, stats domain.DailyStats) {
	n.notify(ctx, EventDrawdownPause,
		"Trading paused: drawdown ceiling",
		fmt.Sprintf("date %s drawdown %.2f%% pnl %+.2f trades %d",
			stats.Date, stats.CurrentDrawdown*100, stats.TotalPnL, stats.TotalTrades))
}

// EmergencyStopped announces an operator-initiated halt.
func (n *Notifier) EmergencyStopped(ctx context.Context, closed int) {
	n.notify(ctx, EventEmergencyStop,
		"Emergency stop",
		fmt.Sprintf("cancelled open orders, closed %d positions", closed))
}

// notify applies the event filter and dispatches. Sender failures are logged,
// never returned: notifications must not stall or fail trading.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if n == nil {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notification send failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event))
	}
}
