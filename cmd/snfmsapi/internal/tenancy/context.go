package tenancy

import "context"

// Context is the per-request tenant selection. TenantIdentifier is either a
// numeric customer id or a domain name.
type Context struct {
	TenantIdentifier string
	LocalIdentifier  string
}

// Scoped reports whether a tenant has been selected.
func (c Context) Scoped() bool {
	return c.TenantIdentifier != ""
}

type tenantContextKey struct{}

type accessorContextKey struct{}

// WithTenant returns a child context carrying tc. Any value set by an outer
// scope is shadowed, so a request never observes another request's tenant.
func WithTenant(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext returns the tenant context set for this request.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(Context)
	return tc, ok
}

// WithAccessor stores the accessor resolved for this request.
func WithAccessor(ctx context.Context, acc *Accessor) context.Context {
	return context.WithValue(ctx, accessorContextKey{}, acc)
}

// AccessorFromContext returns the accessor stored by WithAccessor.
func AccessorFromContext(ctx context.Context) (*Accessor, bool) {
	acc, ok := ctx.Value(accessorContextKey{}).(*Accessor)
	return acc, ok && acc != nil
}
