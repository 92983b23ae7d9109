// Package gateway is the outbound adapter to the payment provider
// (Midtrans Snap + Core status API). It never mutates local state.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable covers network errors, timeouts and provider 5xx/429.
	// Callers may retry it.
	ErrUnavailable = apperr.New(apperr.ErrUnavailable, "gateway_unavailable", "payment gateway unavailable")
	// ErrInvalidRequest is a definitive provider rejection. Never retry it.
	ErrInvalidRequest = apperr.New(apperr.ErrValidation, "invalid_request", "payment gateway rejected the request")
)

const (
	endpointCharge = "charge"
	endpointStatus = "status"

	maxBodyBytes = 1 << 20
	maxItemName  = 50
)

type Config struct {
	ServerKey   string
	APIURL      string // status API, e.g. https://api.sandbox.midtrans.com
	SnapURL     string // e.g. https://app.sandbox.midtrans.com
	FrontendURL string
	Timeout     time.Duration
}

type Client struct {
	cfg     Config
	hc      *http.Client
	auth    string
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.ServerKey+":")),
		log:     log.With(zap.String("component", "payment_gateway")),
		metrics: m,
	}
}

type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   orders.ShippingAddress
}

type ChargeRequest struct {
	OrderNumber string
	GrossAmount decimal.Decimal
	Items       []orders.OrderItem
	Customer    Customer
}

type Charge struct {
	Token       string          `json:"token"`
	RedirectURL string          `json:"redirect_url"`
	Raw         json.RawMessage `json:"-"`
}

// CreateCharge opens a Snap transaction keyed by the order number.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body, err := json.Marshal(snapRequest(req, c.cfg.FrontendURL))
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, endpointCharge, http.MethodPost, strings.TrimRight(c.cfg.SnapURL, "/")+"/snap/v1/transactions", body)
	if err != nil {
		return nil, err
	}
	var ch Charge
	if err := json.Unmarshal(raw, &ch); err != nil || ch.Token == "" {
		return nil, fmt.Errorf("%w: malformed charge response", ErrUnavailable)
	}
	ch.Raw = raw
	return &ch, nil
}

// FetchStatus asks the provider for the authoritative state of the
// transaction created for orderNumber.
func (c *Client) FetchStatus(ctx context.Context, orderNumber string) (*VerifiedStatus, error) {
	u := strings.TrimRight(c.cfg.APIURL, "/") + "/v2/" + url.PathEscape(orderNumber) + "/status"
	raw, err := c.do(ctx, endpointStatus, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: malformed status response", ErrUnavailable)
	}
	// failures can arrive as HTTP 200 with a body code; expired transactions
	// carry code 407 but still report a transaction status
	if code, _ := strconv.Atoi(sr.StatusCode); code >= 400 && sr.TransactionStatus == "" {
		if code >= 500 {
			return nil, fmt.Errorf("%w: provider status %d %s", ErrUnavailable, code, sr.StatusMessage)
		}
		return nil, fmt.Errorf("%w: provider status %d %s", ErrInvalidRequest, code, sr.StatusMessage)
	}
	if sr.OrderID != "" && sr.OrderID != orderNumber {
		return nil, fmt.Errorf("%w: status for %q returned order %q", ErrInvalidRequest, orderNumber, sr.OrderID)
	}
	return sr.verified(orderNumber, raw), nil
}

func (c *Client) do(ctx context.Context, endpoint, method, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	log := logging.FromContext(ctx, c.log).With(zap.String("endpoint", endpoint))

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.auth)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.metrics.GatewayCall(endpoint, "unavailable", time.Since(start).Seconds())
		log.Warn("gateway_request_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.GatewayCall(endpoint, "unavailable", elapsed)
		log.Warn("gateway_read_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.metrics.GatewayCall(endpoint, "unavailable", elapsed)
		log.Warn("gateway_request_failed", zap.Int("http_status", resp.StatusCode))
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.metrics.GatewayCall(endpoint, "rejected", elapsed)
		log.Info("gateway_request_rejected", zap.Int("http_status", resp.StatusCode), zap.ByteString("body", truncate(raw, 512)))
		return nil, fmt.Errorf("%w: http %d", ErrInvalidRequest, resp.StatusCode)
	}
	c.metrics.GatewayCall(endpoint, "ok", elapsed)
	return raw, nil
}

// IsUnavailable reports whether err is the retryable gateway condition.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
