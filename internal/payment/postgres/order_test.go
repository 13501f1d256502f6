package postgres_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	paymentpkg "github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/payment/postgres"
)

func openTestDB() *gorm.DB {
	// Use SQLite in-memory database for testing
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())

	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	// every pooled connection would get its own in-memory database
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&order.Product{}, &order.Order{}, &order.OrderItem{}, &order.StatusEntry{}, &order.PaymentSession{})
	Expect(err).NotTo(HaveOccurred())
	return db
}

var _ = Describe("Order Repository", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		repo      *postgres.OrderRepository
		inventory *postgres.InventoryRepository
		o         *order.Order
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()
		repo = postgres.NewOrderRepository(db)
		inventory = postgres.NewInventoryRepository(db)

		Expect(db.Create(&order.Product{ID: 1, SKU: "TEE-01", Name: "T-shirt", Stock: 8}).Error).To(Succeed())
		Expect(db.Create(&order.Product{ID: 2, SKU: "MUG-01", Name: "Mug", Stock: 3}).Error).To(Succeed())

		o = &order.Order{
			OrderNumber:   "ORD-1001",
			TotalAmount:   decimal.RequireFromString("320.00"),
			PaymentMethod: order.PaymentMethodWallet,
			PaymentStatus: order.PaymentStatusPending,
			OrderStatus:   order.OrderStatusPending,
			Items: []order.OrderItem{
				{ProductID: 1, Quantity: 2},
				{ProductID: 2, Quantity: 1},
			},
		}
		Expect(repo.Create(ctx, o)).To(Succeed())
	})

	startSession := func(paymentID string, attempt int) {
		current, err := repo.GetByID(ctx, o.ID)
		Expect(err).NotTo(HaveOccurred())
		current.GatewayPaymentID = &paymentID
		current.PaymentAttempts = attempt
		current.PaymentDetails.Stage = order.StageCreated
		err = repo.Save(ctx, current, current.Version,
			[]order.StatusEntry{{Status: order.HistorySessionCreated, Note: paymentID}},
			&order.PaymentSession{PaymentID: paymentID, Attempt: attempt})
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("GetByID", func() {
		It("loads items and history", func() {
			startSession("TR001", 1)

			loaded, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Items).To(HaveLen(2))
			Expect(loaded.StatusHistory).To(HaveLen(1))
			Expect(loaded.TotalAmount.StringFixed(2)).To(Equal("320.00"))
			Expect(loaded.PaymentDetails.Stage).To(Equal(order.StageCreated))
			Expect(loaded.Version).To(Equal(int64(2)))
		})

		It("returns ErrOrderNotFound", func() {
			_, err := repo.GetByID(ctx, 999)
			Expect(errors.Is(err, apperrors.ErrOrderNotFound)).To(BeTrue())
		})
	})

	Describe("Save", func() {
		It("rejects a stale version without writing history", func() {
			first, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			second, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())

			first.PaymentStatus = order.PaymentStatusCancelled
			Expect(repo.Save(ctx, first, first.Version, []order.StatusEntry{{Status: order.PaymentStatusCancelled}}, nil)).To(Succeed())

			second.PaymentStatus = order.PaymentStatusCompleted
			second.Executed = true
			err = repo.Save(ctx, second, second.Version, []order.StatusEntry{{Status: order.PaymentStatusCompleted}}, nil)
			Expect(errors.Is(err, paymentpkg.ErrVersionConflict)).To(BeTrue())

			stored, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PaymentStatus).To(Equal(order.PaymentStatusCancelled))
			Expect(stored.Executed).To(BeFalse())
			Expect(stored.StatusHistory).To(HaveLen(1))
		})

		It("persists payment details as JSON", func() {
			current, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			current.PaymentStatus = order.PaymentStatusCompleted
			current.Executed = true
			current.PaymentDetails.Stage = order.StageExecuted
			current.PaymentDetails.Executed = &order.ExecutedDetails{
				PaymentID: "TR001",
				TrxID:     "TRX42",
				Amount:    decimal.RequireFromString("320.00"),
				Source:    paymentpkg.SourceCallback,
			}
			Expect(repo.Save(ctx, current, current.Version, nil, nil)).To(Succeed())

			stored, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PaymentDetails.Executed).NotTo(BeNil())
			Expect(stored.PaymentDetails.Executed.TrxID).To(Equal("TRX42"))
			Expect(stored.PaymentDetails.Executed.Amount.Equal(decimal.NewFromInt(320))).To(BeTrue())
		})
	})

	Describe("GetByGatewayPaymentID", func() {
		It("resolves both the current and a superseded session", func() {
			startSession("TR001", 1)
			startSession("TR002", 2)

			current, err := repo.GetByGatewayPaymentID(ctx, "TR002")
			Expect(err).NotTo(HaveOccurred())
			Expect(current.ID).To(Equal(o.ID))

			superseded, err := repo.GetByGatewayPaymentID(ctx, "TR001")
			Expect(err).NotTo(HaveOccurred())
			Expect(superseded.ID).To(Equal(o.ID))
			Expect(superseded.PaymentIDValue()).To(Equal("TR002"))
		})

		It("returns ErrPaymentNotFound for unknown sessions", func() {
			_, err := repo.GetByGatewayPaymentID(ctx, "TRMISSING")
			Expect(errors.Is(err, apperrors.ErrPaymentNotFound)).To(BeTrue())
		})
	})

	Describe("ListStalePending", func() {
		It("lists pending sessions last touched before the cutoff", func() {
			startSession("TR001", 1)

			stale, err := repo.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(HaveLen(1))

			fresh, err := repo.ListStalePending(ctx, time.Now().Add(-time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeEmpty())
		})

		It("skips orders without a session", func() {
			stale, err := repo.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(BeEmpty())
		})
	})

	Describe("Inventory", func() {
		stockOf := func(id int64) int {
			p, err := inventory.GetProduct(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return p.Stock
		}

		It("restores stock exactly once", func() {
			changed, err := inventory.RestoreStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = inventory.RestoreStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			Expect(stockOf(1)).To(Equal(10))
			Expect(stockOf(2)).To(Equal(4))

			stored, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.InventoryRestored).To(BeTrue())
			Expect(stored.StatusHistory).To(HaveLen(1))
			Expect(stored.StatusHistory[0].Status).To(Equal(order.HistoryStockRestored))
		})

		It("reserves again only after a restore", func() {
			changed, err := inventory.ReserveStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(stockOf(1)).To(Equal(8))

			_, err = inventory.RestoreStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			changed, err = inventory.ReserveStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(stockOf(1)).To(Equal(8))
			Expect(stockOf(2)).To(Equal(3))
		})

		It("does not clobber the flag when the order row is saved", func() {
			current, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = inventory.RestoreStock(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())

			current.PaymentStatus = order.PaymentStatusCancelled
			Expect(repo.Save(ctx, current, current.Version, nil, nil)).To(Succeed())

			stored, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.InventoryRestored).To(BeTrue())
		})
	})
})
