// Package feed streams market data from the exchange combined websocket:
// top-of-book ticker updates and closed bars, dispatched to registered
// handlers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowtrader/flowtrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler is called for every top-of-book update.
type BookHandler func(domain.BookSnapshot)

// BarHandler is called for every closed bar.
type BarHandler func(domain.Bar)

// ResetFunc is called after every (re)connect, before any message is
// dispatched. Flow state built on pre-disconnect quotes must not diff
// against post-reconnect quotes.
type ResetFunc func()

// WSClient consumes the exchange combined stream for a set of symbols,
// subscribing to the bookTicker and kline channels of each.
type WSClient struct {
	wsHost   string
	symbols  []string
	interval string

	onBook  BookHandler
	onBar   BarHandler
	onReset ResetFunc

	logger *slog.Logger
}

// NewWSClient creates a client for the given symbols. interval is the kline
// interval, e.g. "1m".
func NewWSClient(wsHost string, symbols []string, interval string, onBook BookHandler, onBar BarHandler, onReset ResetFunc, logger *slog.Logger) *WSClient {
	if interval == "" {
		interval = "1m"
	}
	return &WSClient{
		wsHost:   wsHost,
		symbols:  symbols,
		interval: interval,
		onBook:   onBook,
		onBar:    onBar,
		onReset:  onReset,
		logger:   logger.With(slog.String("component", "ws_feed")),
	}
}

// streamURL builds the combined-stream URL for the configured symbols.
func (c *WSClient) streamURL() string {
	streams := make([]string, 0, len(c.symbols)*2)
	for _, sym := range c.symbols {
		s := strings.ToLower(sym)
		streams = append(streams, s+"@bookTicker", s+"@kline_"+c.interval)
	}
	return strings.TrimRight(c.wsHost, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and dispatches messages until ctx is cancelled, reconnecting
// with exponential backoff on any read failure.
func (c *WSClient) Run(ctx context.Context) error {
	if len(c.symbols) == 0 {
		c.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("feed disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, runs the ping loop, and reads until the connection
// dies or ctx is cancelled.
func (c *WSClient) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	c.logger.Info("feed connected", slog.Int("symbols", len(c.symbols)))

	if c.onReset != nil {
		c.onReset()
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when ctx dies so ReadMessage unblocks, and keep
	// the peer alive with pings meanwhile.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		c.dispatch(msg)
	}
}

// combinedMessage is the combined-stream envelope.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bookTickerMsg is a top-of-book update. Prices and sizes arrive as strings.
type bookTickerMsg struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// klineMsg wraps a candle update; the candle is only dispatched once closed.
type klineMsg struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

func (c *WSClient) dispatch(raw []byte) {
	var env combinedMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("unparseable feed message", slog.Any("error", err))
		return
	}

	switch {
	case strings.Contains(env.Stream, "@bookTicker"):
		snap, err := parseBookTicker(env.Data)
		if err != nil {
			c.logger.Debug("bad bookTicker payload", slog.Any("error", err))
			return
		}
		if c.onBook != nil {
			c.onBook(snap)
		}
	case strings.Contains(env.Stream, "@kline"):
		bar, closed, err := parseKline(env.Data)
		if err != nil {
			c.logger.Debug("bad kline payload", slog.Any("error", err))
			return
		}
		if closed && c.onBar != nil {
			c.onBar(bar)
		}
	}
}

func parseBookTicker(data []byte) (domain.BookSnapshot, error) {
	var msg bookTickerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.BookSnapshot{}, err
	}

	snap := domain.BookSnapshot{
		Symbol:    msg.Symbol,
		Timestamp: time.Now().UTC(),
	}
	var err error
	if snap.BidPrice, err = strconv.ParseFloat(msg.BidPrice, 64); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("bid price %q: %w", msg.BidPrice, err)
	}
	if snap.BidSize, err = strconv.ParseFloat(msg.BidQty, 64); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("bid qty %q: %w", msg.BidQty, err)
	}
	if snap.AskPrice, err = strconv.ParseFloat(msg.AskPrice, 64); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("ask price %q: %w", msg.AskPrice, err)
	}
	if snap.AskSize, err = strconv.ParseFloat(msg.AskQty, 64); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("ask qty %q: %w", msg.AskQty, err)
	}
	return snap, nil
}

func parseKline(data []byte) (domain.Bar, bool, error) {
	var msg klineMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Bar{}, false, err
	}

	bar := domain.Bar{
		Symbol:   msg.Symbol,
		OpenTime: time.UnixMilli(msg.Kline.OpenTime).UTC(),
	}
	var err error
	if bar.Open, err = strconv.ParseFloat(msg.Kline.Open, 64); err != nil {
		return domain.Bar{}, false, fmt.Errorf("open %q: %w", msg.Kline.Open, err)
	}
	if bar.High, err = strconv.ParseFloat(msg.Kline.High, 64); err != nil {
		return domain.Bar{}, false, fmt.Errorf("high %q: %w", msg.Kline.High, err)
	}
	if bar.Low, err = strconv.ParseFloat(msg.Kline.Low, 64); err != nil {
		return domain.Bar{}, false, fmt.Errorf("low %q: %w", msg.Kline.Low, err)
	}
	if bar.Close, err = strconv.ParseFloat(msg.Kline.Close, 64); err != nil {
		return domain.Bar{}, false, fmt.Errorf("close %q: %w", msg.Kline.Close, err)
	}
	if bar.Volume, err = strconv.ParseFloat(msg.Kline.Volume, 64); err != nil {
		return domain.Bar{}, false, fmt.Errorf("volume %q: %w", msg.Kline.Volume, err)
	}
	return bar, msg.Kline.Closed, nil
}
