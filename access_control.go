package veld

import (
	"context"
	"fmt"
	"slices"
)

type callerRolesKey struct{}

// WithCallerRoles attaches the caller's roles to the context for
// access-control decisions along the invocation chain.
func WithCallerRoles(ctx context.Context, roles ...string) context.Context {
	return context.WithValue(ctx, callerRolesKey{}, roles)
}

// CallerRoles returns the roles attached to the context, if any.
func CallerRoles(ctx context.Context) []string {
	roles, _ := ctx.Value(callerRolesKey{}).([]string)
	return roles
}

// MetadataRolesAllowed is the invocation metadata key listing the
// roles ([]string) permitted to make a call. Calls without the key are
// unrestricted.
const MetadataRolesAllowed = "rolesAllowed"

// AccessControlInterceptor denies calls whose caller holds none of the
// roles the call declares. Register it as before advice so denials
// prevent the real method from running.
type AccessControlInterceptor struct {
	logger Logger
}

// NewAccessControlInterceptor creates an access-control interceptor.
func NewAccessControlInterceptor(logger Logger) *AccessControlInterceptor {
	return &AccessControlInterceptor{logger: logger}
}

// Invoke implements Interceptor.
func (i *AccessControlInterceptor) Invoke(inv *Invocation) (any, error) {
	allowed, ok := inv.Metadata[MetadataRolesAllowed].([]string)
	if !ok || len(allowed) == 0 {
		return nil, nil
	}

	for _, role := range CallerRoles(inv.Context()) {
		if slices.Contains(allowed, role) {
			return nil, nil
		}
	}

	i.logger.Warn("Denied call", "method", inv.Method, "rolesAllowed", allowed)
	return nil, fmt.Errorf("%w: %s requires one of %v", ErrAccessDenied, inv.Method, allowed)
}
