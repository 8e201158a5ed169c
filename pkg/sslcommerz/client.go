package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/config"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/metrics"
)

const (
	sessionPath    = "gwprocess/v4/api.php"
	validationPath = "validator/api/validationserverAPI.php"
	refundPath     = "validator/api/merchantTransIDvalidationAPI.php"

	responseBodyReadLimit int64 = 2048
)

// Transaction states reported by the validation API.
const (
	StatusValid     = "VALID"
	StatusValidated = "VALIDATED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

var errCredentialsRequired = errors.New("gateway store credentials are required")

// Client talks to the hosted payment gateway. All round trips share one
// timeout from config; callers decide how failures map onto payment state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	storeID    string
	storePass  string
	successURL string
	failURL    string
	cancelURL  string
	ipnURL     string
	metrics    *metrics.PaymentMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics wires gateway latency observation.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds the gateway client from configuration.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	storeID := strings.TrimSpace(cfg.StoreID)
	storePass := strings.TrimSpace(cfg.StorePassword)
	if storeID == "" || storePass == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		storeID:    storeID,
		storePass:  storePass,
		successURL: cfg.SuccessURL,
		failURL:    cfg.FailURL,
		cancelURL:  cfg.CancelURL,
		ipnURL:     cfg.IPNURL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// SessionRequest describes a payment session initialization.
type SessionRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CustomerCity  string
}

// SessionResponse carries the session key and the page the customer is sent to.
type SessionResponse struct {
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
}

// ValidationResponse is the gateway's answer for a completed transaction.
type ValidationResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"tran_id"`
	ValidationID  string `json:"val_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	BankTranID    string `json:"bank_tran_id"`
	CardType      string `json:"card_type"`
	RiskLevel     string `json:"risk_level"`
}

// Settled reports whether the gateway considers the transaction paid.
func (v ValidationResponse) Settled() bool {
	return v.Status == StatusValid || v.Status == StatusValidated
}

// RefundRequest describes a full or partial refund against a settled payment.
type RefundRequest struct {
	BankTranID string
	Amount     decimal.Decimal
	Remarks    string
}

// RefundResponse carries the refund reference on success.
type RefundResponse struct {
	Status      string `json:"status"`
	RefundRefID string `json:"refund_ref_id"`
	ErrorReason string `json:"errorReason"`
}

// CreateSession initializes a hosted checkout session for the transaction.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway client not configured")
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session amount must be positive")
	}

	currency := req.Currency
	if currency == "" {
		currency = "BDT"
	}

	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePass)
	form.Set("tran_id", req.TransactionID)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", currency)
	form.Set("success_url", c.successURL)
	form.Set("fail_url", c.failURL)
	form.Set("cancel_url", c.cancelURL)
	if c.ipnURL != "" {
		form.Set("ipn_url", c.ipnURL)
	}
	form.Set("cus_name", req.CustomerName)
	form.Set("cus_email", req.CustomerEmail)
	form.Set("cus_phone", req.CustomerPhone)
	form.Set("cus_city", req.CustomerCity)
	form.Set("shipping_method", "NO")
	form.Set("product_category", "marketplace")
	form.Set("product_profile", "general")

	var out SessionResponse
	if err := c.postForm(ctx, "create_session", sessionPath, form, &out); err != nil {
		return nil, err
	}

	if !strings.EqualFold(out.Status, "SUCCESS") {
		reason := out.FailedReason
		if reason == "" {
			reason = "session rejected"
		}
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment session rejected").
			WithDetails(map[string]any{"reason": reason})
	}
	return &out, nil
}

// ValidateTransaction asks the gateway whether the transaction really settled.
// Callers must never trust redirect parameters without this check.
func (c *Client) ValidateTransaction(ctx context.Context, valID string) (*ValidationResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway client not configured")
	}
	if strings.TrimSpace(valID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation id is required")
	}

	query := url.Values{}
	query.Set("val_id", valID)
	query.Set("store_id", c.storeID)
	query.Set("store_passwd", c.storePass)
	query.Set("format", "json")

	var out ValidationResponse
	if err := c.get(ctx, "validate", validationPath, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateRefund requests a refund against the bank transaction.
func (c *Client) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment gateway client not configured")
	}
	if strings.TrimSpace(req.BankTranID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank transaction id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	query := url.Values{}
	query.Set("bank_tran_id", req.BankTranID)
	query.Set("refund_amount", req.Amount.StringFixed(2))
	query.Set("refund_remarks", req.Remarks)
	query.Set("store_id", c.storeID)
	query.Set("store_passwd", c.storePass)
	query.Set("format", "json")

	var out RefundResponse
	if err := c.get(ctx, "refund", refundPath, query, &out); err != nil {
		return nil, err
	}

	if !strings.EqualFold(out.Status, "success") {
		reason := out.ErrorReason
		if reason == "" {
			reason = "refund rejected"
		}
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "refund rejected").
			WithDetails(map[string]any{"reason": reason})
	}
	return &out, nil
}

func (c *Client) postForm(ctx context.Context, operation, path string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(httpReq, operation, out)
}

func (c *Client) get(ctx context.Context, operation, path string, query url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path)+"?"+query.Encode(), nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build gateway request")
	}
	return c.do(httpReq, operation, out)
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGateway(operation, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(
			pkgerrors.CodeGateway,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"gateway request failed",
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}
