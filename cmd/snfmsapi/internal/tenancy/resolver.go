// Package tenancy maps authenticated principals onto customer databases.
//
// A principal identity has the form "local@tenant". Resolve splits it, the
// request context carries the result for exactly one request, and the Gateway
// turns the tenant part into an Accessor bound to that customer's database.
// Tenant-owned rows are only ever read or written through an Accessor.
package tenancy

import "strings"

// Identity is the result of splitting a principal identity string.
type Identity struct {
	Local     string
	Tenant    string
	HasTenant bool
}

// Resolve splits identity on its last '@'. Identities without '@' resolve to
// no tenant; resolution never fails.
func Resolve(identity string) Identity {
	i := strings.LastIndex(identity, "@")
	if i < 0 {
		return Identity{Local: identity}
	}
	return Identity{
		Local:     identity[:i],
		Tenant:    identity[i+1:],
		HasTenant: true,
	}
}

// ResolveWithOverride resolves identity and, when override is non-empty,
// replaces the tenant with it. The override is the administrative
// X-Customer-ID value and wins over the identity's own domain.
func ResolveWithOverride(identity, override string) Identity {
	id := Resolve(identity)
	if o := strings.TrimSpace(override); o != "" {
		id.Tenant = o
		id.HasTenant = true
	}
	return id
}

// String joins the identity back into "local@tenant" form.
func (i Identity) String() string {
	if !i.HasTenant {
		return i.Local
	}
	return i.Local + "@" + i.Tenant
}

// Context returns the request-scoped tenant context for this identity.
func (i Identity) Context() Context {
	return Context{TenantIdentifier: i.Tenant, LocalIdentifier: i.Local}
}
