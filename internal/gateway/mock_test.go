package gateway_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

var _ = Describe("MockClient", func() {
	var (
		mock *gateway.MockClient
		ctx  context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = gateway.NewMockClient("http://localhost:8080/api/v1/payment/callback", logger.Discard())
	})

	create := func() string {
		res, err := mock.CreatePayment(ctx, gateway.CreateRequest{Amount: decimal.NewFromInt(500), OrderRef: "ORD-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RedirectURL).To(ContainSubstring("paymentID=" + res.PaymentID))
		return res.PaymentID
	}

	It("completes a session on execute and reports it on query", func() {
		paymentID := create()

		exec, err := mock.ExecutePayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(exec.Completed()).To(BeTrue())
		Expect(exec.TrxID).NotTo(BeEmpty())

		query, err := mock.QueryPayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(query.Completed()).To(BeTrue())
		Expect(query.TrxID).To(Equal(exec.TrxID))
	})

	It("answers already-completed on a second execute", func() {
		paymentID := create()
		_, err := mock.ExecutePayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())

		again, err := mock.ExecutePayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.StatusCode).To(Equal(gwtypes.StatusCodeAlreadyCompleted))
		Expect(again.Completed()).To(BeFalse())
	})

	It("settles on a scripted outcome", func() {
		paymentID := create()
		mock.SetOutcome(paymentID, gwtypes.TransactionStatusFailed)

		exec, err := mock.ExecutePayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(exec.Completed()).To(BeFalse())
		Expect(exec.Terminal()).To(BeTrue())
	})

	It("returns injected failures once", func() {
		boom := &gateway.TransportError{Op: "execute", Err: errors.New("connection reset")}
		mock.FailNext("execute", boom)
		paymentID := create()

		_, err := mock.ExecutePayment(ctx, paymentID)
		Expect(err).To(MatchError(boom))

		_, err = mock.ExecutePayment(ctx, paymentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.Calls("execute")).To(Equal(2))
	})

	It("refunds completed sessions up to the paid amount", func() {
		paymentID := create()
		trxID := mock.Settle(paymentID, gwtypes.TransactionStatusCompleted)

		res, err := mock.RefundPayment(ctx, gateway.RefundRequest{PaymentID: paymentID, TrxID: trxID, Amount: decimal.NewFromInt(500)})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RefundTrxID).NotTo(BeEmpty())

		_, err = mock.RefundPayment(ctx, gateway.RefundRequest{PaymentID: paymentID, TrxID: trxID, Amount: decimal.NewFromInt(1)})
		Expect(gateway.IsBusinessError(err)).To(BeTrue())
	})
})
