package dedup_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/internal/dedup"
)

var _ = Describe("Key", func() {
	It("normalizes the transaction status", func() {
		Expect(dedup.Key("TR1", "Completed")).To(Equal("TR1:completed"))
		Expect(dedup.Key("TR1", " completed ")).To(Equal(dedup.Key("TR1", "Completed")))
		Expect(dedup.Key("TR1", "Failed")).NotTo(Equal(dedup.Key("TR1", "Completed")))
	})
})

var _ = Describe("MemoryStore", func() {
	var (
		store *dedup.MemoryStore
		now   time.Time
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		store = dedup.NewMemoryStore(time.Hour)
		store.SetClock(func() time.Time { return now })
	})

	It("reports marked keys as processed", func() {
		processed, err := store.IsProcessed(ctx, "TR1:completed")
		Expect(err).NotTo(HaveOccurred())
		Expect(processed).To(BeFalse())

		Expect(store.MarkProcessed(ctx, "TR1:completed")).To(Succeed())

		processed, err = store.IsProcessed(ctx, "TR1:completed")
		Expect(err).NotTo(HaveOccurred())
		Expect(processed).To(BeTrue())
	})

	It("forgets keys once the ttl elapses", func() {
		Expect(store.MarkProcessed(ctx, "TR1:completed")).To(Succeed())

		now = now.Add(59 * time.Minute)
		Expect(store.IsProcessed(ctx, "TR1:completed")).To(BeTrue())

		now = now.Add(time.Minute)
		Expect(store.IsProcessed(ctx, "TR1:completed")).To(BeFalse())
		Expect(store.Len()).To(Equal(0))
	})

	It("purges expired keys", func() {
		Expect(store.MarkProcessed(ctx, "TR1:completed")).To(Succeed())
		now = now.Add(30 * time.Minute)
		Expect(store.MarkProcessed(ctx, "TR2:completed")).To(Succeed())
		now = now.Add(45 * time.Minute)

		removed, err := store.Purge(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(int64(1)))
		Expect(store.Len()).To(Equal(1))
	})
})
