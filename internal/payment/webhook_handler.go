package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

const (
	SignatureHeader     = "X-Signature"
	maxWebhookBodyBytes = 1 << 20
)

type WebhookHandler struct {
	*transport.BaseHandler
	reconciler    ReconcilerAPI
	signingSecret []byte
	logger        *slog.Logger
}

// NewWebhookHandler builds the webhook endpoint. An empty signingSecret
// disables signature verification.
func NewWebhookHandler(baseHandler *transport.BaseHandler, reconciler ReconcilerAPI, signingSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:   baseHandler,
		reconciler:    reconciler,
		signingSecret: []byte(signingSecret),
		logger:        logger,
	}
}

// HandleWebhook handles POST /api/v1/payment/webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		h.HandleError(w, errors.ErrInvalidSignature)
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Error("invalid webhook payload", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.Warn("webhook payload failed validation", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.logger.Info("received payment webhook",
		"payment_id", req.PaymentID,
		"trx_id", req.TrxID,
		"transaction_status", req.TransactionStatus,
		"amount", req.Amount)

	ack, err := h.reconciler.HandleWebhook(r.Context(), req.Notification())
	if err != nil {
		h.logger.Error("failed to process payment webhook", "error", err, "payment_id", req.PaymentID)
		h.HandleServiceError(w, err)
		return
	}

	status := "processed"
	if ack.Duplicate {
		status = "duplicate"
	}
	h.WriteJSON(w, http.StatusOK, WebhookResponse{
		Status:            status,
		OrderID:           ack.OrderID,
		PaymentStatus:     ack.PaymentStatus,
		TransactionStatus: ack.TransactionStatus,
	})
}

// verifySignature checks a hex HMAC-SHA256 of the raw body.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.signingSecret) == 0 {
		return true
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.signingSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for body. Used by tests and the
// mock gateway tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
