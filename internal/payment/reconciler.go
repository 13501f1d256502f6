package payment

import (
	"context"
	goerrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/storefront-payments/internal"
	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/dedup"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

// Redirect callback results understood by the storefront.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
	ResultError     = "error"
)

type CallbackOutcome struct {
	Result  string
	OrderID int64
	TrxID   string
	Amount  decimal.Decimal
	Message string
}

// Notification is an unverified webhook push.
type Notification struct {
	PaymentID         string
	TrxID             string
	TransactionStatus string
	Amount            string
}

type Ack struct {
	OrderID           int64
	PaymentStatus     string
	TransactionStatus string
	Duplicate         bool
}

type GatewaySnapshot struct {
	TransactionStatus string
	StatusCode        string
	StatusMessage     string
	TrxID             string
	Amount            decimal.Decimal
	QueriedAt         time.Time
}

type StatusView struct {
	OrderID         int64
	OrderNumber     string
	PaymentStatus   string
	OrderStatus     string
	PaymentID       string
	TrxID           string
	Amount          decimal.Decimal
	PaymentAttempts int
	Gateway         *GatewaySnapshot
	GatewayError    string
}

type ReconcileSummary struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}

// Reconciler normalizes evidence from the redirect callback, the webhook and
// status polls into state machine calls. It holds no locks of its own.
type Reconciler struct {
	service ServiceAPI
	repo    Repository
	gateway Gateway
	dedup   dedup.Store
	logger  *slog.Logger
}

func NewReconciler(service ServiceAPI, repo Repository, gw Gateway, store dedup.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		service: service,
		repo:    repo,
		gateway: gw,
		dedup:   store,
		logger:  logger,
	}
}

// HandleRedirectCallback applies the browser redirect. status "success"
// executes the session; "cancel" cancels it; anything else fails it.
func (r *Reconciler) HandleRedirectCallback(ctx context.Context, paymentID, status string) CallbackOutcome {
	log := logger.FromOr(ctx, r.logger).With("payment_id", paymentID, "callback_status", status)

	if paymentID == "" {
		return CallbackOutcome{Result: ResultError, Message: "missing paymentID"}
	}

	o, err := r.repo.GetByGatewayPaymentID(ctx, paymentID)
	if err != nil {
		log.Warn("callback for unknown payment", "error", err)
		return CallbackOutcome{Result: ResultError, Message: "payment not found"}
	}
	orderID := o.ID
	log = log.With("order_id", orderID)

	if o.Executed {
		log.Info("callback for already executed payment")
		return outcomeFor(o, "")
	}

	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		o, err = r.service.ExecuteAndConfirm(ctx, orderID, paymentID, SourceCallback)
	case "cancel", "cancelled":
		o, err = r.service.ConfirmFailureOrCancel(ctx, orderID, FailureEvidence{
			PaymentID:         paymentID,
			Cancelled:         true,
			Reason:            "cancelled by customer",
			TransactionStatus: status,
			Source:            SourceCallback,
		})
	default:
		o, err = r.service.ConfirmFailureOrCancel(ctx, orderID, FailureEvidence{
			PaymentID:         paymentID,
			Reason:            "callback status " + status,
			TransactionStatus: status,
			Source:            SourceCallback,
		})
	}
	if err != nil {
		log.Error("callback handling failed", "error", err)
		return CallbackOutcome{Result: ResultError, OrderID: orderID, Message: messageOf(err)}
	}

	out := outcomeFor(o, status)
	log.Info("callback handled", "result", out.Result, "trx_id", out.TrxID)
	return out
}

// HandleWebhook re-verifies a push with the gateway before trusting it.
// Verbatim redeliveries are dropped through the dedup store; a key is only
// marked once the notification has been handled.
func (r *Reconciler) HandleWebhook(ctx context.Context, n Notification) (*Ack, error) {
	if n.PaymentID == "" {
		return nil, errors.NewValidationFieldError("paymentID", "paymentID is required", errors.ErrCodeValidationFailed)
	}
	log := logger.FromOr(ctx, r.logger).With("payment_id", n.PaymentID, "trx_id", n.TrxID, "claimed_status", n.TransactionStatus)

	key := dedup.Key(n.PaymentID, n.TransactionStatus)
	seen, err := r.dedup.IsProcessed(ctx, key)
	if err != nil {
		// fall through: the state machine guards still make reprocessing safe
		log.Warn("dedup lookup failed", "error", err)
	}
	if seen {
		log.Info("duplicate webhook delivery dropped")
		return &Ack{Duplicate: true, TransactionStatus: n.TransactionStatus}, nil
	}

	o, err := r.repo.GetByGatewayPaymentID(ctx, n.PaymentID)
	if err != nil {
		return nil, err
	}
	orderID := o.ID
	log = log.With("order_id", orderID)

	verified, err := r.gateway.QueryPayment(ctx, n.PaymentID)
	if err != nil {
		log.Error("webhook verification query failed", "error", err)
		return nil, gatewayError("query payment", err)
	}
	if !strings.EqualFold(verified.Status, n.TransactionStatus) {
		log.Warn("webhook status differs from gateway", "verified_status", verified.Status)
	}

	switch {
	case verified.Completed():
		o, err = r.service.ConfirmCompletion(ctx, orderID, evidenceFrom(verified, SourceWebhook))
	case verified.Terminal():
		o, err = r.service.ConfirmFailureOrCancel(ctx, orderID, failureFrom(verified, SourceWebhook))
	default:
		log.Info("webhook for unsettled payment, nothing to apply", "verified_status", verified.Status)
		return &Ack{OrderID: o.ID, PaymentStatus: o.PaymentStatus, TransactionStatus: verified.Status}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.dedup.MarkProcessed(ctx, key); err != nil {
		log.Warn("failed to mark webhook processed", "error", err)
	}

	log.Info("webhook applied", "verified_status", verified.Status, "payment_status", o.PaymentStatus)
	return &Ack{OrderID: o.ID, PaymentStatus: o.PaymentStatus, TransactionStatus: verified.Status}, nil
}

// GetPaymentStatus queries the gateway and persists the snapshot. A verified
// terminal result is applied through the state machine; otherwise only the
// snapshot is stored.
func (r *Reconciler) GetPaymentStatus(ctx context.Context, orderID int64) (*StatusView, error) {
	o, err := r.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, o, SourceQuery)
}

// StaleOrders lists pending sessions not touched for olderThan.
func (r *Reconciler) StaleOrders(ctx context.Context, olderThan time.Duration, limit int) ([]*order.Order, error) {
	return r.repo.ListStalePending(ctx, time.Now().Add(-olderThan), limit)
}

func (r *Reconciler) ReconcileOrder(ctx context.Context, o *order.Order) (*StatusView, error) {
	return r.reconcile(ctx, o, SourceReconcile)
}

func (r *Reconciler) reconcile(ctx context.Context, o *order.Order, source string) (*StatusView, error) {
	log := logger.FromOr(ctx, r.logger).With("order_id", o.ID, "source", source)

	paymentID := o.PaymentIDValue()
	if paymentID == "" {
		return viewOf(o), nil
	}
	log = log.With("payment_id", paymentID)

	res, err := r.gateway.QueryPayment(ctx, paymentID)
	if err != nil {
		log.Warn("status query failed, returning last known snapshot", "error", err)
		view := viewOf(o)
		view.GatewayError = messageOf(gatewayError("query payment", err))
		return view, nil
	}

	orderID := o.ID
	switch {
	case res.Completed() && !o.Executed:
		o, err = r.service.ConfirmCompletion(ctx, orderID, evidenceFrom(res, source))
	case res.Terminal() && failable(o):
		o, err = r.service.ConfirmFailureOrCancel(ctx, orderID, failureFrom(res, source))
	default:
		o, err = r.service.RecordSnapshot(ctx, orderID, res)
	}
	if err != nil {
		log.Error("failed to apply status query result", "error", err)
		return nil, err
	}

	view := viewOf(o)
	view.Gateway = &GatewaySnapshot{
		TransactionStatus: res.Status,
		StatusCode:        res.StatusCode,
		StatusMessage:     res.StatusMessage,
		TrxID:             res.TrxID,
		Amount:            res.Amount,
		QueriedAt:         time.Now(),
	}
	return view, nil
}

func (s *ReconcileSummary) add(view *StatusView, err error) {
	s.Checked++
	switch {
	case err != nil || view == nil || view.GatewayError != "":
		s.Errors++
	case view.PaymentStatus == order.PaymentStatusCompleted:
		s.Completed++
	case view.PaymentStatus == order.PaymentStatusFailed || view.PaymentStatus == order.PaymentStatusCancelled:
		s.Failed++
	default:
		s.Pending++
	}
}

func failureFrom(res *gateway.TransactionResult, source string) FailureEvidence {
	return FailureEvidence{
		PaymentID:         res.PaymentID,
		Cancelled:         res.Status == gwtypes.TransactionStatusCancelled,
		Reason:            "gateway reports " + res.Status,
		TransactionStatus: res.Status,
		Source:            source,
		Raw:               res.Raw,
	}
}

func outcomeFor(o *order.Order, status string) CallbackOutcome {
	out := CallbackOutcome{OrderID: o.ID, Amount: o.TotalAmount}
	switch o.PaymentStatus {
	case order.PaymentStatusCompleted, order.PaymentStatusRefunded:
		out.Result = ResultSuccess
		if ex := o.PaymentDetails.Executed; ex != nil {
			out.TrxID = ex.TrxID
			out.Amount = ex.Amount
		}
	case order.PaymentStatusCancelled:
		out.Result = ResultCancelled
		out.Message = "payment cancelled"
	case order.PaymentStatusFailed:
		out.Result = ResultFailed
		out.Message = "payment failed"
		if f := o.PaymentDetails.Failed; f != nil && f.Reason != "" {
			out.Message = f.Reason
		}
	default:
		out.Result = ResultError
		out.Message = "payment still pending: " + status
	}
	return out
}

func viewOf(o *order.Order) *StatusView {
	view := &StatusView{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		PaymentStatus:   o.PaymentStatus,
		OrderStatus:     o.OrderStatus,
		PaymentID:       o.PaymentIDValue(),
		Amount:          o.TotalAmount,
		PaymentAttempts: o.PaymentAttempts,
	}
	if ex := o.PaymentDetails.Executed; ex != nil {
		view.TrxID = ex.TrxID
	}
	if q := o.PaymentDetails.LastQuery; q != nil {
		view.Gateway = &GatewaySnapshot{
			TransactionStatus: q.TransactionStatus,
			StatusCode:        q.StatusCode,
			StatusMessage:     q.StatusMessage,
			TrxID:             q.TrxID,
			Amount:            q.Amount,
			QueriedAt:         q.ObservedAt,
		}
	}
	return view
}

func messageOf(err error) string {
	var appErr *errors.AppError
	if goerrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
