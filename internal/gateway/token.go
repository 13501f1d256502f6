package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const tokenFlightKey = "gateway-token"

type Token struct {
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Authenticator performs the raw grant and refresh exchanges.
type Authenticator interface {
	Grant(ctx context.Context) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// TokenManager caches the gateway id token and coalesces concurrent
// grant/refresh calls into one in-flight exchange.
type TokenManager struct {
	auth    Authenticator
	buffer  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token *Token
	group singleflight.Group
}

func NewTokenManager(auth Authenticator, buffer, timeout time.Duration, logger *slog.Logger) *TokenManager {
	if buffer <= 0 {
		buffer = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenManager{
		auth:    auth,
		buffer:  buffer,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (m *TokenManager) SetClock(now func() time.Time) {
	m.now = now
}

// GetValidToken returns the cached id token while more than the safety
// buffer remains before expiry, otherwise refreshes or grants a new one.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := m.cachedValid(); ok {
		return tok, nil
	}
	return m.flight(ctx, "renew", func(ctx context.Context) (*Token, error) {
		// another flight may have finished between the cache check and this one starting
		if tok, ok := m.cachedValid(); ok {
			return &Token{IDToken: tok}, nil
		}
		return m.refreshOrGrant(ctx)
	})
}

func (m *TokenManager) GrantToken(ctx context.Context) (string, error) {
	return m.flight(ctx, "grant", m.grant)
}

// RefreshToken exchanges the refresh token, falling back to a fresh grant.
func (m *TokenManager) RefreshToken(ctx context.Context) (string, error) {
	return m.flight(ctx, "refresh", m.refreshOrGrant)
}

// Invalidate drops the cached id token; the refresh token is kept.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		t := *m.token
		t.IDToken = ""
		t.ExpiresAt = time.Time{}
		m.token = &t
	}
}

func (m *TokenManager) cachedValid() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil || m.token.IDToken == "" {
		return "", false
	}
	if m.now().Add(m.buffer).Before(m.token.ExpiresAt) {
		return m.token.IDToken, true
	}
	return "", false
}

func (m *TokenManager) flight(ctx context.Context, op string, fn func(context.Context) (*Token, error)) (string, error) {
	ch := m.group.DoChan(tokenFlightKey, func() (interface{}, error) {
		// the shared exchange must not die with whichever caller started it
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", asAuthError(op, res.Err)
		}
		if res.Shared {
			m.logger.Debug("gateway token exchange shared", "op", op)
		}
		return res.Val.(*Token).IDToken, nil
	case <-ctx.Done():
		return "", &AuthenticationError{Op: op, Err: ctx.Err()}
	}
}

func (m *TokenManager) grant(ctx context.Context) (*Token, error) {
	tok, err := m.auth.Grant(ctx)
	if err != nil {
		m.logger.Error("gateway token grant failed", "error", err)
		return nil, asAuthError("grant", err)
	}
	m.store(tok)
	m.logger.Info("gateway token granted", "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (m *TokenManager) refreshOrGrant(ctx context.Context) (*Token, error) {
	m.mu.RLock()
	var refresh string
	if m.token != nil {
		refresh = m.token.RefreshToken
	}
	m.mu.RUnlock()

	if refresh == "" {
		return m.grant(ctx)
	}

	tok, err := m.auth.Refresh(ctx, refresh)
	if err != nil {
		m.logger.Warn("gateway token refresh failed, falling back to grant", "error", err)
		return m.grant(ctx)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	m.store(tok)
	m.logger.Info("gateway token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (m *TokenManager) store(tok *Token) {
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
}

func asAuthError(op string, err error) error {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return err
	}
	return &AuthenticationError{Op: op, Err: err}
}
