package payment

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/storefront-payments/internal"
	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

const (
	defaultSaveAttempts = 5
	defaultProbeTimeout = 30 * time.Second
)

type ServiceAPI interface {
	CreateSession(ctx context.Context, orderID int64) (*Session, error)
	ConfirmCompletion(ctx context.Context, orderID int64, ev Evidence) (*order.Order, error)
	ConfirmFailureOrCancel(ctx context.Context, orderID int64, ev FailureEvidence) (*order.Order, error)
	Refund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*RefundReceipt, error)
	ExecuteAndConfirm(ctx context.Context, orderID int64, paymentID, source string) (*order.Order, error)
	RecordSnapshot(ctx context.Context, orderID int64, res *gateway.TransactionResult) (*order.Order, error)
}

// Service is the order payment state machine. Every transition is a guarded
// read-modify-write retried on version conflicts.
type Service struct {
	repo         Repository
	gateway      Gateway
	publisher    Publisher
	logger       *slog.Logger
	saveAttempts int
	probeTimeout time.Duration
	now          func() time.Time
}

func NewService(repo Repository, gw Gateway, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		gateway:      gw,
		publisher:    publisher,
		logger:       logger,
		saveAttempts: defaultSaveAttempts,
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
	}
}

// change describes what a guarded mutation did; nil means no-op.
type change struct {
	history []order.StatusEntry
	session *order.PaymentSession
	events  []*events.PaymentTransitionEvent
}

func (c *change) note(status, note string) {
	c.history = append(c.history, order.StatusEntry{Status: status, Note: note})
}

func (c *change) emit(eventType string, t events.PaymentTransition) {
	c.events = append(c.events, events.NewPaymentTransitionEvent(eventType, t))
}

func (s *Service) CreateSession(ctx context.Context, orderID int64) (*Session, error) {
	log := logger.FromOr(ctx, s.logger).With("order_id", orderID)

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if reason := sessionIneligibility(o); reason != "" {
		log.Warn("payment session rejected", "reason", reason, "payment_status", o.PaymentStatus, "executed", o.Executed)
		return nil, notEligible(reason)
	}

	payerRef := o.PayerReference
	if payerRef == "" {
		payerRef = o.OrderNumber
	}
	res, err := s.gateway.CreatePayment(ctx, gateway.CreateRequest{
		Amount:   o.TotalAmount,
		OrderRef: o.OrderNumber,
		PayerRef: payerRef,
	})
	if err != nil {
		log.Error("gateway create payment failed", "error", err, "amount", o.TotalAmount.StringFixed(2))
		return nil, gatewayError("create payment", err)
	}

	var attempt int
	_, err = s.apply(ctx, orderID, func(o *order.Order) (*change, error) {
		// the order may have completed while the gateway call was in flight
		if reason := sessionIneligibility(o); reason != "" {
			return nil, notEligible(reason)
		}

		attempt = o.PaymentAttempts + 1
		paymentID := res.PaymentID
		o.PaymentStatus = order.PaymentStatusPending
		o.GatewayPaymentID = &paymentID
		o.PaymentAttempts = attempt
		o.PaymentDetails.Stage = order.StageCreated
		o.PaymentDetails.Created = &order.CreatedDetails{
			PaymentID:   paymentID,
			RedirectURL: res.RedirectURL,
			Amount:      o.TotalAmount,
			Attempt:     attempt,
			CreatedAt:   s.now(),
		}
		o.PaymentDetails.LastRawPayload = res.Raw

		ch := &change{session: &order.PaymentSession{PaymentID: paymentID, Attempt: attempt}}
		ch.note(order.HistorySessionCreated, fmt.Sprintf("payment session %s created (attempt %d)", paymentID, attempt))
		return ch, nil
	})
	if err != nil {
		log.Error("failed to record payment session", "error", err, "payment_id", res.PaymentID)
		return nil, err
	}

	log.Info("payment session created", "payment_id", res.PaymentID, "attempt", attempt, "amount", o.TotalAmount.StringFixed(2))
	return &Session{
		OrderID:     orderID,
		PaymentID:   res.PaymentID,
		RedirectURL: res.RedirectURL,
		Amount:      o.TotalAmount,
		Attempt:     attempt,
	}, nil
}

// ConfirmCompletion finalizes a payment. Repeated evidence is a no-op and an
// amount outside the tolerance is flagged for review without blocking.
func (s *Service) ConfirmCompletion(ctx context.Context, orderID int64, ev Evidence) (*order.Order, error) {
	log := logger.FromOr(ctx, s.logger).With("order_id", orderID, "payment_id", ev.PaymentID, "trx_id", ev.TrxID, "source", ev.Source)

	return s.apply(ctx, orderID, func(o *order.Order) (*change, error) {
		if finalized(o) {
			if prev := executedTrxID(o); ev.TrxID != "" && prev != ev.TrxID {
				log.Warn("completion evidence disagrees with finalized transaction", "finalized_trx_id", prev)
			} else {
				log.Debug("payment already finalized, ignoring completion evidence")
			}
			return nil, nil
		}

		from := o.PaymentStatus
		ch := &change{}
		mismatch := !gateway.AmountsMatch(ev.Amount, o.TotalAmount)
		if mismatch {
			log.Warn("payment amount mismatch", "paid", ev.Amount.StringFixed(2), "expected", o.TotalAmount.StringFixed(2))
			ch.note(order.HistoryPaymentReview, fmt.Sprintf("amount mismatch, needs review: paid %s, expected %s, trxID %s",
				ev.Amount.StringFixed(2), o.TotalAmount.StringFixed(2), ev.TrxID))
		}
		if current := o.PaymentIDValue(); ev.PaymentID != "" && current != "" && ev.PaymentID != current {
			ch.note(order.HistoryPaymentReview, fmt.Sprintf("completed by superseded session %s (current session %s)", ev.PaymentID, current))
		}

		o.PaymentStatus = order.PaymentStatusCompleted
		o.OrderStatus = order.OrderStatusProcessing
		o.Executed = true
		o.PaymentDetails.Stage = order.StageExecuted
		o.PaymentDetails.Executed = &order.ExecutedDetails{
			PaymentID:      ev.PaymentID,
			TrxID:          ev.TrxID,
			Amount:         ev.Amount,
			Source:         ev.Source,
			AmountMismatch: mismatch,
			ExecutedAt:     s.now(),
		}
		if len(ev.Raw) > 0 {
			o.PaymentDetails.LastRawPayload = ev.Raw
		}
		ch.note(order.PaymentStatusCompleted, fmt.Sprintf("payment completed via %s, trxID %s, amount %s",
			ev.Source, ev.TrxID, ev.Amount.StringFixed(2)))

		t := transition(o, from, ev.PaymentID, ev.TrxID, ev.Amount, ev.Source, "")
		ch.emit(events.EventTypePaymentCompleted, t)
		if mismatch {
			t.Reason = "amount mismatch"
			ch.emit(events.EventTypePaymentReviewRequired, t)
		}

		log.Info("payment completed", "from_status", from, "amount", ev.Amount.StringFixed(2), "amount_mismatch", mismatch)
		return ch, nil
	})
}

// ConfirmFailureOrCancel moves a pending or failed payment to failed or
// cancelled. A completed payment is never downgraded.
func (s *Service) ConfirmFailureOrCancel(ctx context.Context, orderID int64, ev FailureEvidence) (*order.Order, error) {
	log := logger.FromOr(ctx, s.logger).With("order_id", orderID, "payment_id", ev.PaymentID, "source", ev.Source)

	target := order.PaymentStatusFailed
	eventType := events.EventTypePaymentFailed
	if ev.Cancelled {
		target = order.PaymentStatusCancelled
		eventType = events.EventTypePaymentCancelled
	}

	return s.apply(ctx, orderID, func(o *order.Order) (*change, error) {
		if !failable(o) {
			log.Info("ignoring failure evidence", "payment_status", o.PaymentStatus, "executed", o.Executed)
			return nil, nil
		}
		if current := o.PaymentIDValue(); ev.PaymentID != "" && ev.PaymentID != current {
			log.Info("ignoring failure evidence for superseded session", "current_payment_id", current)
			return nil, nil
		}
		if o.PaymentStatus == target {
			return nil, nil
		}

		from := o.PaymentStatus
		o.PaymentStatus = target
		o.PaymentDetails.Stage = order.StageFailed
		o.PaymentDetails.Failed = &order.FailedDetails{
			PaymentID:         ev.PaymentID,
			Reason:            ev.Reason,
			TransactionStatus: ev.TransactionStatus,
			Cancelled:         ev.Cancelled,
			Source:            ev.Source,
			FailedAt:          s.now(),
		}
		if len(ev.Raw) > 0 {
			o.PaymentDetails.LastRawPayload = ev.Raw
		}

		ch := &change{}
		note := fmt.Sprintf("payment %s via %s: %s", target, ev.Source, ev.Reason)
		if ev.TransactionStatus != "" {
			note += fmt.Sprintf(" (transactionStatus %s)", ev.TransactionStatus)
		}
		ch.note(target, note)
		ch.emit(eventType, transition(o, from, ev.PaymentID, "", o.TotalAmount, ev.Source, ev.Reason))

		log.Info("payment not completed", "from_status", from, "to_status", target, "reason", ev.Reason, "transaction_status", ev.TransactionStatus)
		return ch, nil
	})
}

// Refund returns money for a completed payment. A zero amount refunds the
// order total.
func (s *Service) Refund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*RefundReceipt, error) {
	actor := errors.ActorFromContext(ctx)
	log := logger.FromOr(ctx, s.logger).With("order_id", orderID, "actor", actor)

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !refundable(o) {
		log.Warn("refund rejected", "payment_status", o.PaymentStatus)
		return nil, errors.NewConflictError("only completed payments can be refunded", errors.ErrCodeInvalidRefund)
	}
	if amount.IsZero() {
		amount = o.TotalAmount
	}
	if !amount.IsPositive() || amount.GreaterThan(o.TotalAmount.Add(gateway.AmountEpsilon)) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("refund amount must be between 0.01 and %s", o.TotalAmount.StringFixed(2)),
			errors.ErrCodeInvalidRefund)
	}

	executed := o.PaymentDetails.Executed
	if executed == nil || executed.TrxID == "" {
		log.Error("completed order has no executed transaction on record")
		return nil, errors.NewConflictError("no transaction on record to refund", errors.ErrCodeInvalidRefund)
	}

	res, err := s.gateway.RefundPayment(ctx, gateway.RefundRequest{
		PaymentID: executed.PaymentID,
		TrxID:     executed.TrxID,
		Amount:    amount,
		Reason:    reason,
	})
	if err != nil {
		log.Error("gateway refund failed", "error", err, "trx_id", executed.TrxID, "amount", amount.StringFixed(2))
		return nil, gatewayError("refund", err)
	}

	updated, err := s.apply(ctx, orderID, func(o *order.Order) (*change, error) {
		if !refundable(o) {
			return nil, errors.NewConflictError("payment was refunded concurrently", errors.ErrCodeInvalidRefund)
		}

		from := o.PaymentStatus
		o.PaymentStatus = order.PaymentStatusRefunded
		o.PaymentDetails.Stage = order.StageRefunded
		o.PaymentDetails.Refunded = &order.RefundedDetails{
			RefundTrxID:   res.RefundTrxID,
			OriginalTrxID: executed.TrxID,
			Amount:        amount,
			Reason:        reason,
			RefundedAt:    s.now(),
		}
		o.PaymentDetails.LastRawPayload = res.Raw

		ch := &change{}
		ch.note(order.PaymentStatusRefunded, fmt.Sprintf("refunded %s by %s, refundTrxID %s: %s",
			amount.StringFixed(2), actorOrSystem(actor), res.RefundTrxID, reason))
		ch.emit(events.EventTypePaymentRefunded, transition(o, from, executed.PaymentID, res.RefundTrxID, amount, "refund", reason))
		return ch, nil
	})
	if err != nil {
		// money already left through the gateway; the record must be fixed by hand
		log.Error("refund executed at gateway but not recorded", "error", err, "refund_trx_id", res.RefundTrxID)
		return nil, err
	}

	log.Info("payment refunded", "refund_trx_id", res.RefundTrxID, "amount", amount.StringFixed(2))
	return &RefundReceipt{
		OrderID:     orderID,
		RefundTrxID: res.RefundTrxID,
		Amount:      amount,
		Status:      updated.PaymentStatus,
	}, nil
}

// ExecuteAndConfirm executes a session and applies the outcome. When the
// execute call's outcome is unknown the gateway is queried before anything
// is assumed.
func (s *Service) ExecuteAndConfirm(ctx context.Context, orderID int64, paymentID, source string) (*order.Order, error) {
	log := logger.FromOr(ctx, s.logger).With("order_id", orderID, "payment_id", paymentID, "source", source)

	res, err := s.gateway.ExecutePayment(ctx, paymentID)
	if err != nil {
		if !gateway.IsTransportError(err) {
			log.Error("gateway execute failed", "error", err)
			return nil, gatewayError("execute payment", err)
		}

		// the probe and its outcome outlive the caller's request
		probeCtx, cancel := errors.WithTimeout(context.WithoutCancel(ctx), s.probeTimeout)
		defer cancel()

		log.Warn("execute outcome unknown, querying gateway", "error", err)
		probe, qerr := s.gateway.QueryPayment(probeCtx, paymentID)
		if qerr == nil && probe.Completed() {
			return s.ConfirmCompletion(probeCtx, orderID, evidenceFrom(probe, SourceExecute))
		}

		reason := "gateway unreachable during execute: " + err.Error()
		failure := FailureEvidence{PaymentID: paymentID, Reason: reason, Source: SourceExecute}
		if qerr != nil {
			log.Error("reconciliation query failed", "error", qerr)
		} else {
			failure.TransactionStatus = probe.Status
			failure.Raw = probe.Raw
			failure.Cancelled = probe.Status == gwtypes.TransactionStatusCancelled
		}
		return s.ConfirmFailureOrCancel(probeCtx, orderID, failure)
	}

	if res.Completed() {
		return s.ConfirmCompletion(ctx, orderID, evidenceFrom(res, source))
	}

	if res.StatusCode == gwtypes.StatusCodeAlreadyCompleted {
		log.Info("gateway reports session already executed, querying")
		probe, qerr := s.gateway.QueryPayment(ctx, paymentID)
		if qerr != nil {
			return nil, gatewayError("query payment", qerr)
		}
		if probe.Completed() {
			return s.ConfirmCompletion(ctx, orderID, evidenceFrom(probe, source))
		}
		res = probe
	}

	return s.ConfirmFailureOrCancel(ctx, orderID, FailureEvidence{
		PaymentID:         paymentID,
		Cancelled:         res.Status == gwtypes.TransactionStatusCancelled,
		Reason:            failureReason(res),
		TransactionStatus: res.Status,
		Source:            source,
		Raw:               res.Raw,
	})
}

// RecordSnapshot stores the latest status query result without changing
// the payment state. An answer identical to the stored one is not written,
// so repeated polls neither bump the version nor refresh updated_at.
func (s *Service) RecordSnapshot(ctx context.Context, orderID int64, res *gateway.TransactionResult) (*order.Order, error) {
	return s.apply(ctx, orderID, func(o *order.Order) (*change, error) {
		if o.PaymentDetails.LastQuery.SameAnswer(res.Status, res.StatusCode, res.TrxID, res.Amount) {
			return nil, nil
		}
		o.PaymentDetails.LastQuery = &order.QuerySnapshot{
			TransactionStatus: res.Status,
			StatusCode:        res.StatusCode,
			StatusMessage:     res.StatusMessage,
			TrxID:             res.TrxID,
			Amount:            res.Amount,
			ObservedAt:        s.now(),
		}
		if len(res.Raw) > 0 {
			o.PaymentDetails.LastRawPayload = res.Raw
		}
		return &change{}, nil
	})
}

// apply loads the order, runs mutate and saves the result conditionally on
// the version read. On conflict the order is reloaded and mutate re-run, so
// guards always see the latest committed state.
func (s *Service) apply(ctx context.Context, orderID int64, mutate func(o *order.Order) (*change, error)) (*order.Order, error) {
	for attempt := 1; attempt <= s.saveAttempts; attempt++ {
		o, err := s.repo.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		expected := o.Version
		ch, err := mutate(o)
		if err != nil {
			return nil, err
		}
		if ch == nil {
			return o, nil
		}

		err = s.repo.Save(ctx, o, expected, ch.history, ch.session)
		if goerrors.Is(err, ErrVersionConflict) {
			s.logger.Debug("order version conflict, retrying", "order_id", orderID, "attempt", attempt, "version", expected)
			continue
		}
		if err != nil {
			return nil, errors.NewInternalError("failed to save order", err)
		}

		s.publish(ctx, ch.events)
		return o, nil
	}

	s.logger.Error("giving up after repeated version conflicts", "order_id", orderID, "attempts", s.saveAttempts)
	return nil, errors.ErrConcurrentUpdate
}

func (s *Service) publish(ctx context.Context, evs []*events.PaymentTransitionEvent) {
	if s.publisher == nil {
		return
	}
	for _, ev := range evs {
		if err := s.publisher.PublishSync(ctx, ev); err != nil {
			// side effects are best effort; the transition is already committed
			s.logger.Warn("payment event handlers failed", "event_type", ev.EventType(), "order_id", ev.OrderID, "error", err)
		}
	}
}

func transition(o *order.Order, from, paymentID, trxID string, amount decimal.Decimal, source, reason string) events.PaymentTransition {
	return events.PaymentTransition{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		PaymentID:   paymentID,
		TrxID:       trxID,
		Amount:      amount,
		FromStatus:  from,
		ToStatus:    o.PaymentStatus,
		Source:      source,
		Reason:      reason,
	}
}

func evidenceFrom(res *gateway.TransactionResult, source string) Evidence {
	return Evidence{
		PaymentID: res.PaymentID,
		TrxID:     res.TrxID,
		Amount:    res.Amount,
		Source:    source,
		Raw:       res.Raw,
	}
}

func failureReason(res *gateway.TransactionResult) string {
	parts := make([]string, 0, 2)
	if res.StatusCode != "" {
		parts = append(parts, res.StatusCode)
	}
	if res.StatusMessage != "" {
		parts = append(parts, res.StatusMessage)
	}
	if len(parts) == 0 {
		return "payment not completed"
	}
	return strings.Join(parts, " ")
}

func executedTrxID(o *order.Order) string {
	if o.PaymentDetails.Executed == nil {
		return ""
	}
	return o.PaymentDetails.Executed.TrxID
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func notEligible(reason string) error {
	return errors.NewConflictError("order is not eligible for a new payment session: "+reason, errors.ErrCodeOrderNotEligible)
}

// gatewayError maps typed gateway errors onto the application taxonomy.
func gatewayError(op string, err error) error {
	switch {
	case gateway.IsTransportError(err):
		return errors.NewGatewayTimeoutError("payment gateway unavailable during "+op, err)
	case gateway.IsAuthenticationError(err):
		return errors.NewExternalError("payment gateway authentication failed", errors.ErrCodeGatewayAuthFailed, err)
	case gateway.IsBusinessError(err):
		return errors.NewExternalError("payment gateway rejected "+op, errors.ErrCodeGatewayRejected, err)
	}
	return errors.NewInternalError(op+" failed", err)
}
