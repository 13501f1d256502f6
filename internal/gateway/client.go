package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
)

const (
	pathGrant   = "/tokenized/checkout/token/grant"
	pathRefresh = "/tokenized/checkout/token/refresh"
	pathCreate  = "/tokenized/checkout/create"
	pathExecute = "/tokenized/checkout/execute"
	pathStatus  = "/tokenized/checkout/payment/status"
	pathRefund  = "/tokenized/checkout/payment/refund"

	checkoutModeURLBased = "0011"
	intentSale           = "sale"
)

type Config struct {
	BaseURL            string
	AppKey             string
	AppSecret          string
	Username           string
	Password           string
	CallbackURL        string
	Currency           string
	Timeout            time.Duration
	TokenRefreshBuffer time.Duration
	RequestsPerSecond  float64
	Burst              int
}

type CreateRequest struct {
	Amount   decimal.Decimal
	OrderRef string
	PayerRef string
}

type CreateResult struct {
	PaymentID   string
	RedirectURL string
	Raw         json.RawMessage
}

// TransactionResult is the normalized answer of execute and status query.
type TransactionResult struct {
	PaymentID     string
	Status        string
	TrxID         string
	Amount        decimal.Decimal
	StatusCode    string
	StatusMessage string
	Raw           json.RawMessage
}

// Completed reports a business success with a Completed transaction.
func (r *TransactionResult) Completed() bool {
	return r.StatusCode == gwtypes.StatusCodeSuccess && r.Status == gwtypes.TransactionStatusCompleted
}

// Terminal reports a definitive non-completion (failed, cancelled or expired).
func (r *TransactionResult) Terminal() bool {
	switch r.Status {
	case gwtypes.TransactionStatusFailed, gwtypes.TransactionStatusCancelled, gwtypes.TransactionStatusExpired:
		return true
	}
	return false
}

type RefundRequest struct {
	PaymentID string
	TrxID     string
	Amount    decimal.Decimal
	Reason    string
}

type RefundResult struct {
	RefundTrxID string
	Amount      decimal.Decimal
	Raw         json.RawMessage
}

// Client talks to the tokenized checkout API. It never decides business
// outcomes; callers branch on the returned status.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *TokenManager
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
	c.tokens = NewTokenManager(&httpAuthenticator{client: c}, cfg.TokenRefreshBuffer, cfg.Timeout, logger)
	return c
}

// Tokens exposes the owned token manager.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	payload := gwtypes.CreatePaymentRequest{
		Mode:                  checkoutModeURLBased,
		PayerReference:        req.PayerRef,
		CallbackURL:           c.cfg.CallbackURL,
		Amount:                FormatAmount(req.Amount),
		Currency:              c.cfg.Currency,
		Intent:                intentSale,
		MerchantInvoiceNumber: req.OrderRef,
	}

	raw, err := c.call(ctx, "create", pathCreate, payload)
	if err != nil {
		return nil, err
	}

	var resp gwtypes.CreatePaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Op: "create", Err: fmt.Errorf("decode response: %w", err)}
	}

	code, msg := statusOf(resp.StatusCode, resp.StatusMessage, resp.ErrorFields)
	if code != gwtypes.StatusCodeSuccess {
		return nil, &BusinessError{Op: "create", StatusCode: code, StatusMessage: msg}
	}
	if resp.PaymentID == "" || resp.CheckoutURL == "" {
		return nil, &BusinessError{Op: "create", StatusCode: code, StatusMessage: "response missing paymentID or checkout URL"}
	}

	c.logger.Info("gateway payment created",
		"order_ref", req.OrderRef,
		"payment_id", resp.PaymentID,
		"amount", payload.Amount)

	return &CreateResult{PaymentID: resp.PaymentID, RedirectURL: resp.CheckoutURL, Raw: raw}, nil
}

func (c *Client) ExecutePayment(ctx context.Context, paymentID string) (*TransactionResult, error) {
	return c.transaction(ctx, "execute", pathExecute, paymentID)
}

func (c *Client) QueryPayment(ctx context.Context, paymentID string) (*TransactionResult, error) {
	return c.transaction(ctx, "query", pathStatus, paymentID)
}

func (c *Client) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	payload := gwtypes.RefundRequest{
		PaymentID: req.PaymentID,
		TrxID:     req.TrxID,
		Amount:    FormatAmount(req.Amount),
		SKU:       "refund",
		Reason:    req.Reason,
	}

	raw, err := c.call(ctx, "refund", pathRefund, payload)
	if err != nil {
		return nil, err
	}

	var resp gwtypes.RefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Op: "refund", Err: fmt.Errorf("decode response: %w", err)}
	}

	code, msg := statusOf(resp.StatusCode, resp.StatusMessage, resp.ErrorFields)
	if code != gwtypes.StatusCodeSuccess || resp.RefundTrxID == "" {
		return nil, &BusinessError{Op: "refund", StatusCode: code, StatusMessage: msg}
	}

	amount, err := ParseAmount(resp.Amount)
	if err != nil {
		amount = req.Amount
	}

	c.logger.Info("gateway refund completed",
		"payment_id", req.PaymentID,
		"trx_id", req.TrxID,
		"refund_trx_id", resp.RefundTrxID,
		"amount", payload.Amount)

	return &RefundResult{RefundTrxID: resp.RefundTrxID, Amount: amount, Raw: raw}, nil
}

func (c *Client) transaction(ctx context.Context, op, path, paymentID string) (*TransactionResult, error) {
	raw, err := c.call(ctx, op, path, gwtypes.PaymentIDRequest{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}

	var resp gwtypes.TransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	amount, err := ParseAmount(resp.Amount)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	code, msg := statusOf(resp.StatusCode, resp.StatusMessage, resp.ErrorFields)
	result := &TransactionResult{
		PaymentID:     paymentID,
		Status:        resp.TransactionStatus,
		TrxID:         resp.TrxID,
		Amount:        amount,
		StatusCode:    code,
		StatusMessage: msg,
		Raw:           raw,
	}

	c.logger.Info("gateway transaction result",
		"op", op,
		"payment_id", paymentID,
		"trx_id", result.TrxID,
		"transaction_status", result.Status,
		"status_code", result.StatusCode,
		"amount", resp.Amount)

	return result, nil
}

// call sends an authorized request, retrying once with a fresh token on 401.
func (c *Client) call(ctx context.Context, op, path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}

		headers := map[string]string{
			"Authorization": token,
			"X-APP-Key":     c.cfg.AppKey,
		}
		status, raw, err := c.send(ctx, op, path, headers, body, true)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.logger.Warn("gateway rejected token, invalidating", "op", op, "attempt", attempt+1)
			c.tokens.Invalidate()
			continue
		}
		return raw, nil
	}

	return nil, &AuthenticationError{Op: op, Err: errors.New("gateway rejected a freshly issued token")}
}

func (c *Client) send(ctx context.Context, op, path string, headers map[string]string, body []byte, logBodies bool) (int, json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, &TransportError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := c.cfg.BaseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	attrs := []any{"op", op, "url", url}
	if logBodies {
		attrs = append(attrs, "request_body", string(body))
	}
	c.logger.Debug("gateway request", attrs...)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed", "op", op, "url", url, "error", err)
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	attrs = []any{"op", op, "http_status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds()}
	if logBodies {
		attrs = append(attrs, "response_body", string(raw))
	}
	c.logger.Info("gateway response", attrs...)

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return resp.StatusCode, raw, nil
}

type httpAuthenticator struct {
	client *Client
}

func (a *httpAuthenticator) Grant(ctx context.Context) (*Token, error) {
	cfg := a.client.cfg
	return a.exchange(ctx, "grant", pathGrant, gwtypes.GrantTokenRequest{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
	})
}

func (a *httpAuthenticator) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	cfg := a.client.cfg
	return a.exchange(ctx, "refresh", pathRefresh, gwtypes.RefreshTokenRequest{
		AppKey:       cfg.AppKey,
		AppSecret:    cfg.AppSecret,
		RefreshToken: refreshToken,
	})
}

func (a *httpAuthenticator) exchange(ctx context.Context, op, path string, payload interface{}) (*Token, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	headers := map[string]string{
		"username": a.client.cfg.Username,
		"password": a.client.cfg.Password,
	}
	status, raw, err := a.client.send(ctx, "token_"+op, path, headers, body, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token %s: http status %d", op, status)
	}

	var resp gwtypes.TokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if resp.IDToken == "" {
		code, msg := statusOf(resp.StatusCode, resp.StatusMessage, resp.ErrorFields)
		return nil, fmt.Errorf("token %s rejected: %s %s", op, code, msg)
	}

	return &Token{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func statusOf(code, message string, alt gwtypes.ErrorFields) (string, string) {
	if code == "" {
		code = alt.ErrorCode
	}
	if message == "" {
		message = alt.ErrorMessage
	}
	return code, message
}
