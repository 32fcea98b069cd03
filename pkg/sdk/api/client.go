package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/ratelimit"
	sdkhttp "github.com/betbot/p2pbuy/pkg/sdk/http"
)

// ErrNotFound is returned when the backend has no record for the requested id.
var ErrNotFound = errors.New("not found")

// Backend endpoints.
const (
	pathOrders           = "/api/orders"
	pathOrderByCode      = "/api/orders/private/%s"
	pathOrderVisibility  = "/api/orders/%s/visibility"
	pathRelayCreateTrade = "/api/relay/create-trade"
	pathTrade            = "/api/trades/%s"
	pathTradeReceipt     = "/api/trades/%s/receipt"

	headerIdempotencyKey = "Idempotency-Key"
)

// RequestObserver is notified after every backend request (metrics hook).
type RequestObserver func(endpoint string, err error)

// Options configures the backend client.
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	RateCapacity     int
	RateRefillPerSec int
	Observer         RequestObserver
}

// Client talks to the trading backend: order listing, relay submission,
// trade lookup and receipt validation.
type Client struct {
	reads   *sdkhttp.Client // GET, retried by resty
	writes  *sdkhttp.Client // POST/PUT, never retried by transport
	breaker *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	observe RequestObserver
	log     *logrus.Entry
}

// NewClient creates a backend client.
func NewClient(opts Options) *Client {
	c := &Client{
		reads:   sdkhttp.NewClient(opts.BaseURL, sdkhttp.Options{Timeout: opts.Timeout, RetryCount: 2}),
		writes:  sdkhttp.NewClient(opts.BaseURL, sdkhttp.Options{Timeout: opts.Timeout}),
		observe: opts.Observer,
		log:     logger.Component("backend"),
	}
	if opts.RateCapacity > 0 && opts.RateRefillPerSec > 0 {
		c.limiter = ratelimit.New(ratelimit.Rate{Burst: opts.RateCapacity, PerSecond: float64(opts.RateRefillPerSec)}, nil)
	}
	c.breaker = newCircuitBreaker(c.log)
	return c
}

func newCircuitBreaker(log *logrus.Entry) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests > 10 && failureRatio >= 0.7
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("backend seems down, stop allowing requests")
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				log.Info("checking backend status")
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				log.Info("backend seems ok, restart allowing requests")
			}
		},
	})
}

func (c *Client) done(endpoint string, err error) {
	if c.observe != nil {
		c.observe(endpoint, err)
	}
}

// read runs a GET through the rate limiter and circuit breaker.
// A 404 is a valid answer, not a backend failure, so it does not count against the breaker.
func (c *Client) read(ctx context.Context, endpoint string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return err
		}
	}
	notFound := false
	_, err := c.breaker.Execute(func() (interface{}, error) {
		err := fn()
		if isStatus(err, http.StatusNotFound) {
			notFound = true
			return nil, nil
		}
		return nil, err
	})
	if notFound {
		err = ErrNotFound
	}
	c.done(endpoint, err)
	return err
}

func isStatus(err error, code int) bool {
	var he *sdkhttp.HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

// ListOrders fetches the active order list.
func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var out []OrderDTO
	err := c.read(ctx, "list_orders", func() error {
		_, err := c.reads.DoRequest(ctx, http.MethodGet, pathOrders, nil, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(out))
	for _, dto := range out {
		o, err := dto.ToDomain()
		if err != nil {
			c.log.WithError(err).WithField("order_id", dto.OrderID).Warn("skip malformed order")
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetOrderByPrivateCode resolves a private order from its share code.
func (c *Client) GetOrderByPrivateCode(ctx context.Context, code string) (*domain.Order, error) {
	var dto OrderDTO
	err := c.read(ctx, "order_by_code", func() error {
		_, err := c.reads.DoRequest(ctx, http.MethodGet, fmt.Sprintf(pathOrderByCode, url.PathEscape(code)), nil, &dto)
		return err
	})
	if err != nil {
		return nil, err
	}
	o, err := dto.ToDomain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SetOrderVisibility updates an order's visibility setting (seller side).
func (c *Client) SetOrderVisibility(ctx context.Context, orderID string, req VisibilityRequest) error {
	_, err := c.writes.DoRequest(ctx, http.MethodPut, fmt.Sprintf(pathOrderVisibility, url.PathEscape(orderID)),
		&sdkhttp.RequestOptions{Data: req}, nil)
	c.done("order_visibility", err)
	return err
}

// RelayError is a relay-side rejection, usually wrapping revert data.
type RelayError struct {
	Reason string
	Cause  error
}

func (e *RelayError) Error() string {
	if e.Reason != "" {
		return "relay rejected: " + e.Reason
	}
	return fmt.Sprintf("relay failed: %v", e.Cause)
}

func (e *RelayError) Unwrap() error { return e.Cause }

// CreateTrade submits a gas-relayed create-trade transaction.
func (c *Client) CreateTrade(ctx context.Context, req CreateTradeRequest) (*CreateTradeResponse, error) {
	var out CreateTradeResponse
	_, err := c.writes.DoRequest(ctx, http.MethodPost, pathRelayCreateTrade, &sdkhttp.RequestOptions{
		Headers: map[string]string{headerIdempotencyKey: uuid.NewString()},
		Data:    req,
	}, &out)
	c.done("relay_create_trade", err)
	if err != nil {
		var he *sdkhttp.HTTPError
		if errors.As(err, &he) {
			return nil, &RelayError{Reason: fmt.Sprint(he.Body), Cause: err}
		}
		return nil, &RelayError{Cause: err}
	}
	if out.Error != "" {
		return nil, &RelayError{Reason: out.Error}
	}
	if out.TxHash == "" || out.TradeID == "" {
		return nil, &RelayError{Reason: "relay response missing trade id or tx hash"}
	}
	return &out, nil
}

// GetTrade fetches one trade; ErrNotFound until the backend has indexed it.
func (c *Client) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var dto TradeDTO
	err := c.read(ctx, "get_trade", func() error {
		_, err := c.reads.DoRequest(ctx, http.MethodGet, fmt.Sprintf(pathTrade, url.PathEscape(tradeID)), nil, &dto)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dto.ToDomain()
}

// ValidateReceipt uploads a receipt for fast validation.
func (c *Client) ValidateReceipt(ctx context.Context, tradeID string, receipt Receipt) (*ValidationResult, error) {
	var out ValidationResult
	_, err := c.writes.Upload(ctx, fmt.Sprintf(pathTradeReceipt, url.PathEscape(tradeID)),
		"file", receipt.FileName, receipt.ContentType, bytes.NewReader(receipt.Data),
		map[string]string{"trade_id": tradeID}, &out)
	c.done("validate_receipt", err)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "upload receipt")
	}
	return &out, nil
}
