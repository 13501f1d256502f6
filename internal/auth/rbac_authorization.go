package auth

import (
	"context"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

type PermissionAuthorizer interface {
	HasPermission(ctx context.Context, userPermissions []string, permission string) (bool, error)
}

type RBACAuthorization struct {
	*transport.BaseHandler
	authorizer PermissionAuthorizer
	logger     *slog.Logger
}

func NewRBACAuthorization(authorizer PermissionAuthorizer, logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		authorizer:  authorizer,
		logger:      logger,
	}
}

// Check rejects requests whose operator lacks permission. It expects
// AuthMiddleware to have run first.
func (ra *RBACAuthorization) Check(next http.HandlerFunc, permission string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := errors.ActorFromContext(r.Context())
		if actor == "" {
			ra.logger.Warn("authorization check failed: operator not found in context")
			ra.HandleError(w, errors.ErrInvalidToken)
			return
		}

		permissions := errors.PermissionsFromContext(r.Context())
		hasAccess, err := ra.authorizer.HasPermission(r.Context(), permissions, permission)
		if err != nil {
			ra.logger.ErrorContext(r.Context(), "authorization check failed", "error", err, "actor", actor, "permission", permission)
			ra.HandleError(w, errors.NewInternalError("authorization check failed", err))
			return
		}

		if !hasAccess {
			ra.logger.WarnContext(r.Context(), "access denied: insufficient permissions",
				"actor", actor,
				"required_permission", permission,
				"permissions", permissions)
			ra.HandleError(w, errors.ErrForbidden)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (ra *RBACAuthorization) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, permission)
	}
}

func (ra *RBACAuthorization) RequireRefundPayment() func(http.Handler) http.Handler {
	return ra.Middleware(PermissionRefundPayments)
}
