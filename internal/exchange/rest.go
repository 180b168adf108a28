package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// RESTConfig holds connection parameters for the live broker.
type RESTConfig struct {
	Host              string
	ApiKey            string
	ApiSecret         string
	RecvWindowMs      int
	RequestsPerSecond float64
	RequestBurst      int
}

func (c *RESTConfig) fillDefaults() {
	if c.RecvWindowMs <= 0 {
		c.RecvWindowMs = 5000
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 8
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 16
	}
}

// RESTBroker implements domain.BrokerClient against the exchange futures
// REST API. Every request is HMAC-signed and passes through a client-side
// rate limiter so bursts of chase retries cannot trip the exchange limits.
type RESTBroker struct {
	cfg     RESTConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewRESTBroker creates a live broker client.
func NewRESTBroker(cfg RESTConfig, logger *slog.Logger) *RESTBroker {
	cfg.fillDefaults()
	return &RESTBroker{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		logger:  logger.With(slog.String("component", "rest_broker")),
		now:     time.Now,
	}
}

// orderResponse is the subset of the exchange order payload we consume.
type orderResponse struct {
	OrderID int64  `json:"orderId"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	Price   string `json:"price"`
}

// apiError is the exchange error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PlaceLimit submits a limit order. postOnly maps to the GTX time-in-force:
// the exchange rejects the order instead of matching it when it would cross.
func (b *RESTBroker) PlaceLimit(ctx context.Context, symbol string, side domain.OrderSide, qty, price float64, postOnly bool) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("quantity", formatFloat(qty))
	params.Set("price", formatFloat(price))
	if postOnly {
		params.Set("timeInForce", "GTX")
	} else {
		params.Set("timeInForce", "GTC")
	}

	var resp orderResponse
	if err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: place limit %s: %w", symbol, err)
	}

	return domain.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		PostOnly:  postOnly,
		Status:    mapStatus(resp.Status),
		CreatedAt: b.now().UTC(),
	}, nil
}

// PlaceMarket submits a market order.
func (b *RESTBroker) PlaceMarket(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(qty))

	var resp orderResponse
	if err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: place market %s: %w", symbol, err)
	}

	return domain.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Status:    mapStatus(resp.Status),
		CreatedAt: b.now().UTC(),
	}, nil
}

// Cancel cancels one order.
func (b *RESTBroker) Cancel(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	if err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, nil); err != nil {
		return fmt.Errorf("exchange: cancel %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// CancelAll cancels every open order on the symbol.
func (b *RESTBroker) CancelAll(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	if err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil); err != nil {
		return fmt.Errorf("exchange: cancel all %s: %w", symbol, err)
	}
	return nil
}

// OrderStatus fetches the current status of an order.
func (b *RESTBroker) OrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("exchange: order status %s/%s: %w", symbol, orderID, err)
	}
	return mapStatus(resp.Status), nil
}

// balanceEntry is one asset row from the balance endpoint.
type balanceEntry struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// Balance returns the total USDT balance.
func (b *RESTBroker) Balance(ctx context.Context) (float64, error) {
	entry, err := b.usdtBalance(ctx)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(entry.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("exchange: parse balance %q: %w", entry.Balance, err)
	}
	return v, nil
}

// AvailableBalance returns the USDT balance not locked in positions.
func (b *RESTBroker) AvailableBalance(ctx context.Context) (float64, error) {
	entry, err := b.usdtBalance(ctx)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(entry.AvailableBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("exchange: parse available balance %q: %w", entry.AvailableBalance, err)
	}
	return v, nil
}

func (b *RESTBroker) usdtBalance(ctx context.Context) (balanceEntry, error) {
	var entries []balanceEntry
	if err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &entries); err != nil {
		return balanceEntry{}, fmt.Errorf("exchange: fetch balance: %w", err)
	}
	for _, e := range entries {
		if e.Asset == "USDT" {
			return e, nil
		}
	}
	return balanceEntry{}, fmt.Errorf("exchange: no USDT balance entry: %w", domain.ErrNotFound)
}

// signedRequest appends timestamp/recvWindow, signs the query string, and
// executes the request under the rate limiter. A non-2xx response is decoded
// into the exchange error envelope and surfaced as ErrBrokerRejected.
func (b *RESTBroker) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(b.cfg.RecvWindowMs))

	query := params.Encode()
	query += "&signature=" + sign(b.cfg.ApiSecret, query)

	reqURL := strings.TrimRight(b.cfg.Host, "/") + path + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.ApiKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("%w: %s (code %d, http %d)", domain.ErrBrokerRejected, apiErr.Msg, apiErr.Code, resp.StatusCode)
		}
		return fmt.Errorf("%w: http %d", domain.ErrBrokerRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapStatus converts the exchange status string to the domain status.
func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW", "PARTIALLY_FILLED":
		return domain.OrderStatusNew
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusExpired
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusUnknown
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Compile-time interface check.
var _ domain.BrokerClient = (*RESTBroker)(nil)
