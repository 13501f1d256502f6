package auth

import (
	"context"
	"slices"
)

type PermissionChecker interface {
	HasPermission(ctx context.Context, userPermissions []string, permission string) (bool, error)
	HasAnyPermission(userPermissions []string, requiredPermissions []string) bool
	CanRefundPayments(userPermissions []string) bool
}

type DefaultPermissionChecker struct{}

func NewPermissionChecker() PermissionChecker {
	return &DefaultPermissionChecker{}
}

// HasPermission treats admin as holding every permission.
func (c *DefaultPermissionChecker) HasPermission(ctx context.Context, userPermissions []string, permission string) (bool, error) {
	return c.HasAnyPermission(userPermissions, []string{permission, PermissionAdmin}), nil
}

func (c *DefaultPermissionChecker) CanRefundPayments(userPermissions []string) bool {
	return c.HasAnyPermission(userPermissions, []string{PermissionRefundPayments, PermissionAdmin})
}

func (c *DefaultPermissionChecker) HasAnyPermission(userPermissions []string, requiredPermissions []string) bool {
	for _, required := range requiredPermissions {
		if slices.Contains(userPermissions, required) {
			return true
		}
	}
	return false
}
