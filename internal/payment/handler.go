package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

type ReconcilerAPI interface {
	HandleRedirectCallback(ctx context.Context, paymentID, status string) CallbackOutcome
	HandleWebhook(ctx context.Context, n Notification) (*Ack, error)
	GetPaymentStatus(ctx context.Context, orderID int64) (*StatusView, error)
}

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	Reconciler     ReconcilerAPI
	ResultURL      string
	Logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, reconciler ReconcilerAPI, resultURL string, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
		Reconciler:     reconciler,
		ResultURL:      strings.TrimRight(resultURL, "/"),
		Logger:         logger,
	}
}

// CreateSession handles POST /api/v1/orders/{orderID}/payment
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	session, err := h.PaymentService.CreateSession(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("CreateSession: service error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, CreateSessionResponse{
		OrderID:     session.OrderID,
		PaymentID:   session.PaymentID,
		RedirectURL: session.RedirectURL,
		Amount:      session.Amount.StringFixed(2),
		Attempt:     session.Attempt,
	})
}

// GetStatus handles GET /api/v1/orders/{orderID}/payment
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	view, err := h.Reconciler.GetPaymentStatus(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("GetStatus: service error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewPaymentStatusResponse(view))
}

// Refund handles POST /api/v1/orders/{orderID}/payment/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Refund: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	receipt, err := h.PaymentService.Refund(r.Context(), orderID, req.AmountValue(), req.Reason)
	if err != nil {
		h.Logger.Error("Refund: service error", "error", err, "order_id", orderID, "actor", errors.ActorFromContext(r.Context()))
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, RefundResponse{
		OrderID:       receipt.OrderID,
		RefundTrxID:   receipt.RefundTrxID,
		Amount:        receipt.Amount.StringFixed(2),
		PaymentStatus: receipt.Status,
	})
}

// Callback handles GET /api/v1/payment/callback, the browser redirect back
// from the gateway. It always answers with a redirect to the storefront.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := h.Reconciler.HandleRedirectCallback(r.Context(), q.Get("paymentID"), q.Get("status"))
	http.Redirect(w, r, h.resultLocation(outcome), http.StatusFound)
}

func (h *Handler) resultLocation(out CallbackOutcome) string {
	params := url.Values{}
	if out.OrderID != 0 {
		params.Set("orderId", strconv.FormatInt(out.OrderID, 10))
	}
	if out.TrxID != "" {
		params.Set("trxID", out.TrxID)
	}
	if out.Result == ResultSuccess {
		params.Set("amount", out.Amount.StringFixed(2))
	}
	if out.Message != "" {
		params.Set("message", out.Message)
	}

	location := h.ResultURL + "/" + out.Result
	if encoded := params.Encode(); encoded != "" {
		location += "?" + encoded
	}
	return location
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "orderID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.HandleError(w, errors.NewValidationFieldError("orderID", "orderID must be a positive integer", errors.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}
