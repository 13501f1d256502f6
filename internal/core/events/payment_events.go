package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentCompleted      = "payment.completed"
	EventTypePaymentFailed         = "payment.failed"
	EventTypePaymentCancelled      = "payment.cancelled"
	EventTypePaymentRefunded       = "payment.refunded"
	EventTypePaymentReviewRequired = "payment.review_required"
)

// PaymentTransitionEvent is published after an order's payment status
// change has been committed.
type PaymentTransitionEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	PaymentID   string          `json:"payment_id"`
	TrxID       string          `json:"trx_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	FromStatus  string          `json:"from_status"`
	ToStatus    string          `json:"to_status"`
	Source      string          `json:"source"`
	Reason      string          `json:"reason,omitempty"`
}

type PaymentTransition struct {
	OrderID     int64
	OrderNumber string
	PaymentID   string
	TrxID       string
	Amount      decimal.Decimal
	FromStatus  string
	ToStatus    string
	Source      string
	Reason      string
}

func NewPaymentTransitionEvent(eventType string, t PaymentTransition) *PaymentTransitionEvent {
	return &PaymentTransitionEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":     t.OrderID,
				"order_number": t.OrderNumber,
				"payment_id":   t.PaymentID,
				"trx_id":       t.TrxID,
				"amount":       t.Amount.StringFixed(2),
				"from_status":  t.FromStatus,
				"to_status":    t.ToStatus,
				"source":       t.Source,
				"reason":       t.Reason,
			},
		},
		OrderID:     t.OrderID,
		OrderNumber: t.OrderNumber,
		PaymentID:   t.PaymentID,
		TrxID:       t.TrxID,
		Amount:      t.Amount,
		FromStatus:  t.FromStatus,
		ToStatus:    t.ToStatus,
		Source:      t.Source,
		Reason:      t.Reason,
	}
}
