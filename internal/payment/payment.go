package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
)

// Evidence sources, recorded in the audit trail.
const (
	SourceCallback  = "callback"
	SourceWebhook   = "webhook"
	SourceQuery     = "status_query"
	SourceReconcile = "reconcile"
	SourceExecute   = "execute_fallback"
)

// ErrVersionConflict is returned by Repository.Save when the stored version
// no longer matches the one the caller read.
var ErrVersionConflict = errors.New("order version conflict")

// Evidence that a gateway transaction completed.
type Evidence struct {
	PaymentID string
	TrxID     string
	Amount    decimal.Decimal
	Source    string
	Raw       json.RawMessage
}

// FailureEvidence that a session ended without payment.
type FailureEvidence struct {
	PaymentID         string
	Cancelled         bool
	Reason            string
	TransactionStatus string
	Source            string
	Raw               json.RawMessage
}

type Repository interface {
	GetByID(ctx context.Context, id int64) (*order.Order, error)
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*order.Order, error)
	// Save writes the mutable payment fields of o only if the stored version
	// equals expectedVersion, appending history and an optional new session
	// in the same transaction.
	Save(ctx context.Context, o *order.Order, expectedVersion int64, history []order.StatusEntry, session *order.PaymentSession) error
	ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*order.Order, error)
}

// Inventory flips the order's restored flag and adjusts stock atomically.
// Both report whether anything changed.
type Inventory interface {
	RestoreStock(ctx context.Context, orderID int64) (bool, error)
	ReserveStock(ctx context.Context, orderID int64) (bool, error)
}

// Gateway is implemented by gateway.Client and gateway.MockClient.
type Gateway interface {
	CreatePayment(ctx context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error)
	ExecutePayment(ctx context.Context, paymentID string) (*gateway.TransactionResult, error)
	QueryPayment(ctx context.Context, paymentID string) (*gateway.TransactionResult, error)
	RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error)
}

type Publisher interface {
	PublishSync(ctx context.Context, event events.Event) error
}

// Session is the result of CreateSession.
type Session struct {
	OrderID     int64
	PaymentID   string
	RedirectURL string
	Amount      decimal.Decimal
	Attempt     int
}

type RefundReceipt struct {
	OrderID     int64
	RefundTrxID string
	Amount      decimal.Decimal
	Status      string
}

// sessionIneligibility returns why a new session cannot be created, or "".
func sessionIneligibility(o *order.Order) string {
	switch {
	case o.PaymentMethod != order.PaymentMethodWallet:
		return "payment method is " + o.PaymentMethod
	case o.Executed:
		return "payment already executed"
	case !retryableStatus(o.PaymentStatus):
		return "payment status is " + o.PaymentStatus
	}
	return ""
}

func retryableStatus(status string) bool {
	switch status {
	case order.PaymentStatusPending, order.PaymentStatusFailed, order.PaymentStatusCancelled:
		return true
	}
	return false
}

// finalized orders accept no further completion evidence.
func finalized(o *order.Order) bool {
	return o.Executed
}

// failable orders can still be moved to failed or cancelled.
func failable(o *order.Order) bool {
	if o.Executed {
		return false
	}
	return o.PaymentStatus == order.PaymentStatusPending || o.PaymentStatus == order.PaymentStatusFailed
}

func refundable(o *order.Order) bool {
	return o.Executed && o.PaymentStatus == order.PaymentStatusCompleted
}
