package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

type fakeAuthenticator struct {
	grants     atomic.Int32
	refreshes  atomic.Int32
	release    chan struct{}
	grantErr   error
	refreshErr error
	lifetime   time.Duration
}

func (f *fakeAuthenticator) Grant(ctx context.Context) (*gateway.Token, error) {
	n := f.grants.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	return &gateway.Token{
		IDToken:      fmt.Sprintf("grant-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresAt:    time.Now().Add(f.lifetime),
	}, nil
}

func (f *fakeAuthenticator) Refresh(ctx context.Context, refreshToken string) (*gateway.Token, error) {
	n := f.refreshes.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &gateway.Token{
		IDToken:   fmt.Sprintf("refreshed-%d-from-%s", n, refreshToken),
		ExpiresAt: time.Now().Add(f.lifetime),
	}, nil
}

var _ = Describe("TokenManager", func() {
	var (
		auth    *fakeAuthenticator
		manager *gateway.TokenManager
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		auth = &fakeAuthenticator{lifetime: time.Hour}
		manager = gateway.NewTokenManager(auth, time.Minute, time.Second, logger.Discard())
	})

	Describe("GetValidToken", func() {
		It("grants once and serves the cached token afterwards", func() {
			first, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(Equal("grant-1"))
			Expect(second).To(Equal(first))
			Expect(auth.grants.Load()).To(Equal(int32(1)))
		})

		It("coalesces concurrent callers into a single grant", func() {
			auth.release = make(chan struct{})

			const callers = 20
			var wg sync.WaitGroup
			tokens := make([]string, callers)
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					tokens[i], errs[i] = manager.GetValidToken(ctx)
				}(i)
			}

			Eventually(auth.grants.Load).Should(Equal(int32(1)))
			time.Sleep(50 * time.Millisecond)
			close(auth.release)
			wg.Wait()

			Expect(auth.grants.Load()).To(Equal(int32(1)))
			for i := 0; i < callers; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(tokens[i]).To(Equal("grant-1"))
			}
		})

		It("refreshes when the token is inside the safety buffer", func() {
			auth.lifetime = 30 * time.Second

			_, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())

			tok, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("refreshed-1-from-refresh-1"))
			Expect(auth.refreshes.Load()).To(Equal(int32(1)))
			Expect(auth.grants.Load()).To(Equal(int32(1)))
		})

		It("falls back to a fresh grant when refresh fails", func() {
			auth.lifetime = 30 * time.Second
			auth.refreshErr = errors.New("refresh token revoked")

			_, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())

			tok, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("grant-2"))
			Expect(auth.refreshes.Load()).To(Equal(int32(1)))
			Expect(auth.grants.Load()).To(Equal(int32(2)))
		})

		It("reports grant failures as AuthenticationError", func() {
			auth.grantErr = errors.New("invalid app secret")

			_, err := manager.GetValidToken(ctx)
			Expect(err).To(HaveOccurred())

			var authErr *gateway.AuthenticationError
			Expect(errors.As(err, &authErr)).To(BeTrue())
			Expect(gateway.IsAuthenticationError(err)).To(BeTrue())
		})

		It("returns when the caller gives up without cancelling the shared exchange", func() {
			auth.release = make(chan struct{})
			callerCtx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := manager.GetValidToken(callerCtx)
			Expect(gateway.IsAuthenticationError(err)).To(BeTrue())

			close(auth.release)
			Eventually(func() (string, error) {
				return manager.GetValidToken(ctx)
			}).Should(Equal("grant-1"))
		})
	})

	Describe("Invalidate", func() {
		It("forces a refresh on the next call", func() {
			_, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())

			manager.Invalidate()

			tok, err := manager.GetValidToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("refreshed-1-from-refresh-1"))
		})
	})
})
