package payment

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/core/common/validation"
)

type CreateSessionResponse struct {
	OrderID     int64  `json:"orderId"`
	PaymentID   string `json:"paymentID"`
	RedirectURL string `json:"redirectURL"`
	Amount      string `json:"amount"`
	Attempt     int    `json:"attempt"`
}

type RefundRequest struct {
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).
		Decimal(errors.ErrCodeInvalidAmount).
		PositiveDecimal(errors.ErrCodeInvalidAmount)
	validator.Field("reason", r.Reason).Required().MaxLength(255)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// AmountValue returns the requested amount, zero meaning the order total.
func (r *RefundRequest) AmountValue() decimal.Decimal {
	if r.Amount == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type RefundResponse struct {
	OrderID       int64  `json:"orderId"`
	RefundTrxID   string `json:"refundTrxID"`
	Amount        string `json:"amount"`
	PaymentStatus string `json:"paymentStatus"`
}

type WebhookRequest struct {
	PaymentID         string `json:"paymentID"`
	TrxID             string `json:"trxID,omitempty"`
	TransactionStatus string `json:"transactionStatus"`
	Amount            string `json:"amount,omitempty"`
}

func (r *WebhookRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("paymentID", r.PaymentID).Required().MaxLength(128)
	validator.Field("amount", r.Amount).Decimal(errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (r *WebhookRequest) Notification() Notification {
	return Notification{
		PaymentID:         r.PaymentID,
		TrxID:             r.TrxID,
		TransactionStatus: r.TransactionStatus,
		Amount:            r.Amount,
	}
}

type WebhookResponse struct {
	Status            string `json:"status"`
	OrderID           int64  `json:"orderId,omitempty"`
	PaymentStatus     string `json:"paymentStatus,omitempty"`
	TransactionStatus string `json:"transactionStatus,omitempty"`
}

type GatewaySnapshotResponse struct {
	TransactionStatus string    `json:"transactionStatus"`
	StatusCode        string    `json:"statusCode,omitempty"`
	StatusMessage     string    `json:"statusMessage,omitempty"`
	TrxID             string    `json:"trxID,omitempty"`
	Amount            string    `json:"amount"`
	QueriedAt         time.Time `json:"queriedAt"`
}

type PaymentStatusResponse struct {
	OrderID         int64                    `json:"orderId"`
	OrderNumber     string                   `json:"orderNumber"`
	PaymentStatus   string                   `json:"paymentStatus"`
	OrderStatus     string                   `json:"orderStatus"`
	PaymentID       string                   `json:"paymentID,omitempty"`
	TrxID           string                   `json:"trxID,omitempty"`
	Amount          string                   `json:"amount"`
	PaymentAttempts int                      `json:"paymentAttempts"`
	Gateway         *GatewaySnapshotResponse `json:"gateway,omitempty"`
	GatewayError    string                   `json:"gatewayError,omitempty"`
}

func NewPaymentStatusResponse(v *StatusView) PaymentStatusResponse {
	resp := PaymentStatusResponse{
		OrderID:         v.OrderID,
		OrderNumber:     v.OrderNumber,
		PaymentStatus:   v.PaymentStatus,
		OrderStatus:     v.OrderStatus,
		PaymentID:       v.PaymentID,
		TrxID:           v.TrxID,
		Amount:          v.Amount.StringFixed(2),
		PaymentAttempts: v.PaymentAttempts,
		GatewayError:    v.GatewayError,
	}
	if g := v.Gateway; g != nil {
		resp.Gateway = &GatewaySnapshotResponse{
			TransactionStatus: g.TransactionStatus,
			StatusCode:        g.StatusCode,
			StatusMessage:     g.StatusMessage,
			TrxID:             g.TrxID,
			Amount:            g.Amount.StringFixed(2),
			QueriedAt:         g.QueriedAt,
		}
	}
	return resp
}
