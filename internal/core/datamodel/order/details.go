package order

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DetailsStage string

const (
	StageCreated  DetailsStage = "created"
	StageExecuted DetailsStage = "executed"
	StageFailed   DetailsStage = "failed"
	StageRefunded DetailsStage = "refunded"
)

// PaymentDetails is a tagged variant: Stage names the block describing the
// current lifecycle stage. Earlier blocks are retained (a refund still needs
// the executed trxID). LastRawPayload is kept for audit only and never read
// by transition logic.
type PaymentDetails struct {
	Stage    DetailsStage     `json:"stage,omitempty"`
	Created  *CreatedDetails  `json:"created,omitempty"`
	Executed *ExecutedDetails `json:"executed,omitempty"`
	Failed   *FailedDetails   `json:"failed,omitempty"`
	Refunded *RefundedDetails `json:"refunded,omitempty"`

	LastQuery      *QuerySnapshot  `json:"lastQuery,omitempty"`
	LastRawPayload json.RawMessage `json:"lastRawPayload,omitempty"`
}

// QuerySnapshot is the last distinct status query answer. ObservedAt is when
// that answer was first seen; identical answers are not re-recorded.
type QuerySnapshot struct {
	TransactionStatus string          `json:"transactionStatus"`
	StatusCode        string          `json:"statusCode,omitempty"`
	StatusMessage     string          `json:"statusMessage,omitempty"`
	TrxID             string          `json:"trxID,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	ObservedAt        time.Time       `json:"observedAt"`
}

// SameAnswer reports whether q already records the given query result.
func (q *QuerySnapshot) SameAnswer(status, code, trxID string, amount decimal.Decimal) bool {
	return q != nil &&
		q.TransactionStatus == status &&
		q.StatusCode == code &&
		q.TrxID == trxID &&
		q.Amount.Equal(amount)
}

type CreatedDetails struct {
	PaymentID   string          `json:"paymentID"`
	RedirectURL string          `json:"redirectURL"`
	Amount      decimal.Decimal `json:"amount"`
	Attempt     int             `json:"attempt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type ExecutedDetails struct {
	PaymentID      string          `json:"paymentID"`
	TrxID          string          `json:"trxID"`
	Amount         decimal.Decimal `json:"amount"`
	Source         string          `json:"source"`
	AmountMismatch bool            `json:"amountMismatch,omitempty"`
	ExecutedAt     time.Time       `json:"executedAt"`
}

type FailedDetails struct {
	PaymentID         string    `json:"paymentID"`
	Reason            string    `json:"reason"`
	TransactionStatus string    `json:"transactionStatus,omitempty"`
	Cancelled         bool      `json:"cancelled,omitempty"`
	Source            string    `json:"source"`
	FailedAt          time.Time `json:"failedAt"`
}

type RefundedDetails struct {
	RefundTrxID   string          `json:"refundTrxID"`
	OriginalTrxID string          `json:"originalTrxID"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	RefundedAt    time.Time       `json:"refundedAt"`
}

func (d PaymentDetails) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *PaymentDetails) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = PaymentDetails{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("payment details: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*d = PaymentDetails{}
		return nil
	}
	return json.Unmarshal(raw, d)
}
