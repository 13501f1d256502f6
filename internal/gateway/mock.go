package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
)

type mockSession struct {
	amount     decimal.Decimal
	paidAmount *decimal.Decimal
	status     string
	trxID      string
	refunded   decimal.Decimal
	orderRef   string
}

// MockClient is an in-memory gateway used in mock mode and tests. Sessions
// complete on execute unless an outcome has been scripted.
type MockClient struct {
	callbackURL string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*mockSession
	outcomes map[string]string
	failures map[string][]error
	calls    map[string]int
}

func NewMockClient(callbackURL string, logger *slog.Logger) *MockClient {
	return &MockClient{
		callbackURL: callbackURL,
		logger:      logger,
		sessions:    make(map[string]*mockSession),
		outcomes:    make(map[string]string),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// SetOutcome scripts the transaction status execute will settle a session on.
func (m *MockClient) SetOutcome(paymentID, transactionStatus string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[paymentID] = transactionStatus
}

// SetPaidAmount overrides the amount reported for a session.
func (m *MockClient) SetPaidAmount(paymentID string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[paymentID]; ok {
		s.paidAmount = &amount
	}
}

// Settle moves a session to a transaction status as if the customer acted on
// the gateway page, returning the trxID for completed sessions.
func (m *MockClient) Settle(paymentID, transactionStatus string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[paymentID]
	if !ok {
		return ""
	}
	m.settle(s, transactionStatus)
	return s.trxID
}

// FailNext queues an error returned by the next call of op
// ("create", "execute", "query", "refund").
func (m *MockClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockClient) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create"); err != nil {
		return nil, err
	}

	paymentID := "TR" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]
	m.sessions[paymentID] = &mockSession{
		amount:   req.Amount,
		status:   gwtypes.TransactionStatusInitiated,
		orderRef: req.OrderRef,
	}

	redirect := m.callbackURL + "?" + url.Values{"paymentID": {paymentID}, "status": {"success"}}.Encode()
	raw := m.marshal(gwtypes.CreatePaymentResponse{
		StatusCode:            gwtypes.StatusCodeSuccess,
		StatusMessage:         "Successful",
		PaymentID:             paymentID,
		TransactionStatus:     gwtypes.TransactionStatusInitiated,
		Amount:                FormatAmount(req.Amount),
		Currency:              "BDT",
		Intent:                intentSale,
		MerchantInvoiceNumber: req.OrderRef,
		CheckoutURL:           redirect,
	})

	m.logger.Info("mock gateway: payment created", "payment_id", paymentID, "order_ref", req.OrderRef)
	return &CreateResult{PaymentID: paymentID, RedirectURL: redirect, Raw: raw}, nil
}

func (m *MockClient) ExecutePayment(ctx context.Context, paymentID string) (*TransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("execute"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[paymentID]
	if !ok {
		return m.result(paymentID, nil, "2056", "Invalid Payment State"), nil
	}
	if s.status == gwtypes.TransactionStatusCompleted {
		return m.result(paymentID, s, gwtypes.StatusCodeAlreadyCompleted, "The payment has already been completed"), nil
	}
	if s.status != gwtypes.TransactionStatusInitiated {
		return m.result(paymentID, s, "2056", "Invalid Payment State"), nil
	}

	outcome, scripted := m.outcomes[paymentID]
	if !scripted {
		outcome = gwtypes.TransactionStatusCompleted
	}
	m.settle(s, outcome)

	if outcome != gwtypes.TransactionStatusCompleted {
		return m.result(paymentID, s, gwtypes.StatusCodeInsufficientFund, "Payment "+strings.ToLower(outcome)), nil
	}
	return m.result(paymentID, s, gwtypes.StatusCodeSuccess, "Successful"), nil
}

func (m *MockClient) QueryPayment(ctx context.Context, paymentID string) (*TransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("query"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[paymentID]
	if !ok {
		return m.result(paymentID, nil, "2056", "Invalid Payment State"), nil
	}
	return m.result(paymentID, s, gwtypes.StatusCodeSuccess, "Successful"), nil
}

func (m *MockClient) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("refund"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[req.PaymentID]
	if !ok || s.status != gwtypes.TransactionStatusCompleted || s.trxID != req.TrxID {
		return nil, &BusinessError{Op: "refund", StatusCode: "2071", StatusMessage: "Invalid refund request"}
	}
	if s.refunded.Add(req.Amount).GreaterThan(s.amount.Add(AmountEpsilon)) {
		return nil, &BusinessError{Op: "refund", StatusCode: "2072", StatusMessage: "Refund amount exceeds paid amount"}
	}
	s.refunded = s.refunded.Add(req.Amount)

	refundTrxID := "RF" + strings.ToUpper(uuid.NewString()[:8])
	raw := m.marshal(gwtypes.RefundResponse{
		StatusCode:        gwtypes.StatusCodeSuccess,
		StatusMessage:     "Successful",
		OriginalTrxID:     req.TrxID,
		RefundTrxID:       refundTrxID,
		TransactionStatus: gwtypes.TransactionStatusCompleted,
		Amount:            FormatAmount(req.Amount),
		Currency:          "BDT",
	})

	m.logger.Info("mock gateway: refund completed", "payment_id", req.PaymentID, "refund_trx_id", refundTrxID)
	return &RefundResult{RefundTrxID: refundTrxID, Amount: req.Amount, Raw: raw}, nil
}

// enter must be called with mu held.
func (m *MockClient) enter(op string) error {
	m.calls[op]++
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MockClient) settle(s *mockSession, status string) {
	s.status = status
	if status == gwtypes.TransactionStatusCompleted && s.trxID == "" {
		s.trxID = "TRX" + strings.ToUpper(uuid.NewString()[:8])
	}
}

func (m *MockClient) result(paymentID string, s *mockSession, code, message string) *TransactionResult {
	res := &TransactionResult{
		PaymentID:     paymentID,
		StatusCode:    code,
		StatusMessage: message,
	}
	if s != nil {
		res.Status = s.status
		res.TrxID = s.trxID
		res.Amount = s.amount
		if s.paidAmount != nil {
			res.Amount = *s.paidAmount
		}
	}
	res.Raw = m.marshal(gwtypes.TransactionResponse{
		StatusCode:            code,
		StatusMessage:         message,
		PaymentID:             paymentID,
		TrxID:                 res.TrxID,
		TransactionStatus:     res.Status,
		Amount:                FormatAmount(res.Amount),
		Currency:              "BDT",
		Intent:                intentSale,
		MerchantInvoiceNumber: orderRefOf(s),
	})
	return res
}

func (m *MockClient) marshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}

func orderRefOf(s *mockSession) string {
	if s == nil {
		return ""
	}
	return s.orderRef
}
