package middleware_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/api"
	"github.com/frahmantamala/storefront-payments/internal/transport/middleware"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

var _ = Describe("Redaction", func() {
	It("masks secrets in JSON bodies at any depth", func() {
		body := middleware.FilterSensitiveBody([]byte(`{"paymentID":"TR1","app_secret":"s3cr3t","nested":{"id_token":"abc"}}`))

		Expect(body).To(ContainSubstring(`"paymentID":"TR1"`))
		Expect(body).NotTo(ContainSubstring("s3cr3t"))
		Expect(body).NotTo(ContainSubstring("abc"))
	})

	It("masks sensitive headers", func() {
		headers := http.Header{}
		headers.Set("Authorization", "Bearer abc")
		headers.Set("X-Signature", "deadbeef")
		headers.Set("Content-Type", "application/json")

		filtered := middleware.FilterSensitiveHeaders(headers)
		Expect(filtered["Authorization"]).To(Equal("[FILTERED]"))
		Expect(filtered["X-Signature"]).To(Equal("[FILTERED]"))
		Expect(filtered["Content-Type"]).To(Equal("application/json"))
	})

	It("masks sensitive query parameters", func() {
		Expect(middleware.FilterSensitiveQuery("paymentID=TR1&token=abc")).To(Equal("paymentID=TR1&token=[FILTERED]"))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("turns a panic into a 500 response", func() {
		handler := middleware.RecoveryMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

		Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
		Expect(recorder.Body.String()).To(ContainSubstring("INTERNAL_ERROR"))
	})
})

var _ = Describe("RequestID", func() {
	It("propagates an incoming trace id", func() {
		handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(middleware.TraceHeader, "trace-123")

		handler.ServeHTTP(recorder, req)

		Expect(recorder.Header().Get(middleware.TraceHeader)).To(Equal("trace-123"))
	})

	It("generates one when absent", func() {
		handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

		Expect(recorder.Header().Get(middleware.TraceHeader)).NotTo(BeEmpty())
	})
})

var _ = Describe("ValidateOperation", func() {
	var (
		handler http.Handler
		reached []byte
	)

	BeforeEach(func() {
		doc, err := api.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())

		validate, err := middleware.ValidateOperation(doc, http.MethodPost, "/payment/webhook", logger.Discard())
		Expect(err).NotTo(HaveOccurred())

		reached = nil
		handler = validate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
	})

	post := func(body string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/payment/webhook", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		handler.ServeHTTP(recorder, req)
		return recorder
	}

	It("passes a conforming body through intact", func() {
		body := `{"paymentID":"TR1","transactionStatus":"Completed"}`

		Expect(post(body).Code).To(Equal(http.StatusOK))
		Expect(string(reached)).To(Equal(body))
	})

	It("rejects a body without paymentID", func() {
		recorder := post(`{"transactionStatus":"Completed"}`)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		Expect(reached).To(BeNil())
	})

	It("fails for operations missing from the document", func() {
		doc, err := api.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())

		_, err = middleware.ValidateOperation(doc, http.MethodDelete, "/payment/webhook", logger.Discard())
		Expect(err).To(HaveOccurred())
	})
})
