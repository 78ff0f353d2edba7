package auth

import (
	"context"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Method names how a request authenticated.
type Method string

const (
	MethodBearer Method = "bearer"
	MethodQuery  Method = "query"
	MethodBasic  Method = "basic"
)

// AuthenticatedPrincipal captures identity metadata propagated through the request context.
type AuthenticatedPrincipal struct {
	// Username is the full "local@tenant" identity.
	Username string
	// Identity is Username split by the tenant resolver.
	Identity tenancy.Identity
	// TokenID is the jti of the presented token; empty for basic auth.
	TokenID string
	// ExpiresAt is the token expiry; zero for basic auth.
	ExpiresAt time.Time
	Method    Method
	// Operator principals may act in a customer other than their own.
	Operator bool
}

type principalContextKey struct{}

// SetUserContext stores the authenticated principal on the context for downstream consumers.
func SetUserContext(ctx context.Context, principal AuthenticatedPrincipal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// GetUserFromContext retrieves the authenticated principal from the context.
func GetUserFromContext(ctx context.Context) (AuthenticatedPrincipal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(AuthenticatedPrincipal)
	return principal, ok
}
