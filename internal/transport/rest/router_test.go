package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/storefront-payments/api"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	gwtypes "github.com/frahmantamala/storefront-payments/internal/core/datamodel/gateway"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/dedup"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/payment/postgres"
	"github.com/frahmantamala/storefront-payments/internal/transport"
	"github.com/frahmantamala/storefront-payments/internal/transport/rest"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

const (
	jwtSecret     = "router-test-secret"
	signingSecret = "router-test-webhook"
)

var _ = Describe("Router", func() {
	var (
		router    *chi.Mux
		gw        *gateway.MockClient
		inventory *postgres.InventoryRepository
		tokens    *auth.JWTTokenGenerator
		orderID   int64
		dbHealthy bool
	)

	BeforeEach(func() {
		ctx := context.Background()
		log := logger.Discard()

		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&order.Product{}, &order.Order{}, &order.OrderItem{}, &order.StatusEntry{}, &order.PaymentSession{})).To(Succeed())

		repo := postgres.NewOrderRepository(db)
		inventory = postgres.NewInventoryRepository(db)
		Expect(db.Create(&order.Product{ID: 1, SKU: "TEE-01", Name: "T-shirt", Stock: 4}).Error).To(Succeed())
		o := &order.Order{
			OrderNumber:   "ORD-2001",
			TotalAmount:   decimal.RequireFromString("99.00"),
			PaymentMethod: order.PaymentMethodWallet,
			PaymentStatus: order.PaymentStatusPending,
			OrderStatus:   order.OrderStatusPending,
			Items:         []order.OrderItem{{ProductID: 1, Quantity: 1}},
		}
		Expect(repo.Create(ctx, o)).To(Succeed())
		orderID = o.ID

		gw = gateway.NewMockClient("http://localhost/api/v1/payment/callback", log)
		bus := events.NewEventBus(log)
		payment.NewStockCompensator(inventory, log).RegisterEventHandlers(bus)
		service := payment.NewService(repo, gw, bus, log)
		reconciler := payment.NewReconciler(service, repo, gw, dedup.NewMemoryStore(time.Hour), log)

		tokens = auth.NewJWTTokenGenerator(jwtSecret, "storefront-payments", time.Hour)
		base := transport.NewBaseHandler(log)

		doc, err := api.Load(ctx)
		Expect(err).NotTo(HaveOccurred())

		dbHealthy = true
		health := rest.NewHealthHandler(map[string]rest.Pinger{
			"postgres": sqlDB,
			"redis": rest.PingFunc(func(ctx context.Context) error {
				if dbHealthy {
					return nil
				}
				return errors.New("connection refused")
			}),
		})

		router = chi.NewRouter()
		err = rest.RegisterAllRoutes(router, doc, health,
			auth.NewHandler(tokens, log),
			auth.NewRBACAuthorization(auth.NewPermissionChecker(), log),
			payment.NewHandler(base, service, reconciler, "https://shop.example/checkout/result", log),
			payment.NewWebhookHandler(base, reconciler, signingSecret, log),
			log)
		Expect(err).NotTo(HaveOccurred())
	})

	do := func(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	orderPath := func(suffix string) string {
		return "/api/v1/orders/" + strconv.FormatInt(orderID, 10) + "/payment" + suffix
	}

	stock := func() int {
		p, err := inventory.GetProduct(context.Background(), 1)
		Expect(err).NotTo(HaveOccurred())
		return p.Stock
	}

	It("serves health, ping and the OpenAPI document", func() {
		Expect(do("GET", "/api/v1/ping", nil, nil).Code).To(Equal(http.StatusOK))
		Expect(do("GET", "/api/v1/health", nil, nil).Code).To(Equal(http.StatusOK))

		dbHealthy = false
		Expect(do("GET", "/api/v1/health", nil, nil).Code).To(Equal(http.StatusServiceUnavailable))

		spec := do("GET", "/openapi.yml", nil, nil)
		Expect(spec.Code).To(Equal(http.StatusOK))
		Expect(spec.Body.String()).To(ContainSubstring("/payment/webhook"))
	})

	It("runs a checkout through create, redirect and a duplicate webhook", func() {
		created := do("POST", orderPath(""), nil, nil)
		Expect(created.Code).To(Equal(http.StatusCreated))
		var session map[string]interface{}
		Expect(json.Unmarshal(created.Body.Bytes(), &session)).To(Succeed())
		paymentID := session["paymentID"].(string)
		Expect(created.Header().Get("X-Trace-ID")).NotTo(BeEmpty())

		callback := do("GET", "/api/v1/payment/callback?paymentID="+paymentID+"&status=success", nil, nil)
		Expect(callback.Code).To(Equal(http.StatusFound))
		location, err := url.Parse(callback.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		Expect(location.Path).To(Equal("/checkout/result/success"))

		body, err := json.Marshal(map[string]string{
			"paymentID":         paymentID,
			"trxID":             location.Query().Get("trxID"),
			"transactionStatus": gwtypes.TransactionStatusCompleted,
			"amount":            "99.00",
		})
		Expect(err).NotTo(HaveOccurred())
		signed := map[string]string{payment.SignatureHeader: payment.Sign(signingSecret, body)}

		first := do("POST", "/api/v1/payment/webhook", body, signed)
		Expect(first.Code).To(Equal(http.StatusOK))
		Expect(first.Body.String()).To(ContainSubstring(`"processed"`))

		second := do("POST", "/api/v1/payment/webhook", body, signed)
		Expect(second.Code).To(Equal(http.StatusOK))
		Expect(second.Body.String()).To(ContainSubstring(`"duplicate"`))

		status := do("GET", orderPath(""), nil, nil)
		Expect(status.Code).To(Equal(http.StatusOK))
		Expect(status.Body.String()).To(ContainSubstring(`"paymentStatus":"completed"`))
		Expect(gw.Calls("execute")).To(Equal(1))
		Expect(stock()).To(Equal(4))
	})

	It("rejects webhooks that do not match the schema before touching state", func() {
		body := []byte(`{"transactionStatus":"Completed"}`)

		resp := do("POST", "/api/v1/payment/webhook", body, map[string]string{payment.SignatureHeader: payment.Sign(signingSecret, body)})
		Expect(resp.Code).To(Equal(http.StatusBadRequest))
		Expect(gw.Calls("query")).To(Equal(0))
	})

	It("guards refunds behind an operator token", func() {
		created := do("POST", orderPath(""), nil, nil)
		Expect(created.Code).To(Equal(http.StatusCreated))
		var session map[string]interface{}
		Expect(json.Unmarshal(created.Body.Bytes(), &session)).To(Succeed())
		Expect(do("GET", "/api/v1/payment/callback?paymentID="+session["paymentID"].(string)+"&status=success", nil, nil).Code).To(Equal(http.StatusFound))

		refund := []byte(`{"reason":"customer return"}`)
		Expect(do("POST", orderPath("/refund"), refund, nil).Code).To(Equal(http.StatusUnauthorized))

		viewer, err := tokens.GenerateAccessToken("viewer@shop.example", []string{"orders:read"})
		Expect(err).NotTo(HaveOccurred())
		Expect(do("POST", orderPath("/refund"), refund, map[string]string{"Authorization": "Bearer " + viewer}).Code).To(Equal(http.StatusForbidden))

		operator, err := tokens.GenerateAccessToken("ops@shop.example", []string{auth.PermissionRefundPayments})
		Expect(err).NotTo(HaveOccurred())
		resp := do("POST", orderPath("/refund"), refund, map[string]string{"Authorization": "Bearer " + operator})
		Expect(resp.Code).To(Equal(http.StatusOK))
		Expect(resp.Body.String()).To(ContainSubstring(`"paymentStatus":"refunded"`))
		Expect(stock()).To(Equal(5))
	})
})
