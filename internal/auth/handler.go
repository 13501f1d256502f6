package auth

import (
	goerrors "errors"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/transport"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Tokens TokenValidator
}

func NewHandler(tokens TokenValidator, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Tokens:      tokens,
	}
}

// AuthMiddleware verifies the bearer token and stores the operator and its
// permissions in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.Logger.Warn("auth middleware: missing authorization token")
			h.HandleError(w, errors.ErrInvalidToken)
			return
		}

		claims, err := h.Tokens.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("token validation failed", "error", err)
			if goerrors.Is(err, ErrTokenExpired) {
				h.HandleError(w, errors.ErrTokenExpired)
				return
			}
			h.HandleError(w, errors.ErrInvalidToken)
			return
		}

		ctx := errors.ContextWithActor(r.Context(), claims.Subject, claims.Permissions)
		ctx = logger.With(ctx, "actor", claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
