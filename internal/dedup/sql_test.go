package dedup_test

import (
	"context"
	"errors"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/internal/dedup"
)

var _ = Describe("SQLStore", func() {
	var (
		mock  sqlmock.Sqlmock
		db    *sqlx.DB
		store *dedup.SQLStore
		now   time.Time
		ctx   context.Context
	)

	BeforeEach(func() {
		raw, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		db = sqlx.NewDb(raw, "sqlmock")

		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		store = dedup.NewSQLStore(db, 2*time.Hour)
		store.SetClock(func() time.Time { return now })
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		_ = db.Close()
	})

	It("checks for an unexpired row", func() {
		mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM webhook_events`).
			WithArgs("TR1:completed", now).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		processed, err := store.IsProcessed(ctx, "TR1:completed")
		Expect(err).NotTo(HaveOccurred())
		Expect(processed).To(BeTrue())
	})

	It("upserts the key with an expiry", func() {
		mock.ExpectExec(`INSERT INTO webhook_events`).
			WithArgs("TR1:completed", now, now.Add(2*time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		Expect(store.MarkProcessed(ctx, "TR1:completed")).To(Succeed())
	})

	It("wraps query failures", func() {
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnError(errors.New("connection refused"))

		_, err := store.IsProcessed(ctx, "TR1:completed")
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})

	It("purges expired rows", func() {
		mock.ExpectExec(`DELETE FROM webhook_events WHERE expires_at <=`).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 3))

		removed, err := store.Purge(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(int64(3)))
	})
})
