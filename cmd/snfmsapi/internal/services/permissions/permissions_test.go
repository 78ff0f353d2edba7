package permissions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy/tenancytest"
)

type fixture struct {
	acc  *tenancy.Accessor
	agg  *Aggregator
	gate *Gate
}

func setup(t *testing.T) fixture {
	t.Helper()
	env := tenancytest.New(t)
	_, acc := env.AddTenant(t, "acme", "sha256")
	gate, err := NewGate("", nil)
	require.NoError(t, err)
	return fixture{acc: acc, agg: NewAggregator(nil), gate: gate}
}

func (f fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{UserName: name, Status: models.UserStatusActive}
	require.NoError(t, f.acc.Users().Create(context.Background(), u))
	return u
}

func (f fixture) role(t *testing.T, name string, dataAccess bool, grants ...string) *models.Role {
	t.Helper()
	ctx := context.Background()
	r := &models.Role{Name: name, DataAccess: dataAccess}
	require.NoError(t, f.acc.Roles().Create(ctx, r))
	if len(grants) > 0 {
		require.NoError(t, f.acc.RoleAttributes().SetValue(ctx, r.ID, grants, true))
	}
	return r
}

func (f fixture) assign(t *testing.T, u *models.User, r *models.Role) {
	t.Helper()
	require.NoError(t, f.acc.UserRoles().Create(context.Background(), &models.UserRole{UserID: u.ID, RoleID: r.ID}))
}

func TestIsAuthorized_AnyOf(t *testing.T) {
	assert.False(t, IsAuthorized(
		NewCapabilitySet("security.crmadmin"),
		NewCapabilitySet("security.marketingadmin")))
	assert.True(t, IsAuthorized(
		NewCapabilitySet("security.crmadmin", "security.marketingadmin"),
		NewCapabilitySet("security.marketingadmin")))
	assert.False(t, IsAuthorized(NewCapabilitySet(), NewCapabilitySet("security.crmadmin")))
	assert.False(t, IsAuthorized(NewCapabilitySet("security.crmadmin"), nil))
}

func TestCapabilitySet(t *testing.T) {
	s := NewCapabilitySet("b", "a", "b")
	assert.Len(t, s, 2)
	assert.Equal(t, []string{"a", "b"}, s.Sorted())

	c := s.Clone()
	c.Add("z")
	assert.False(t, s.Has("z"))
}

func TestAggregator_UnionOfDirectAndRoleGrants(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u := f.user(t, "jdoe")
	_, err := f.acc.UserAttributes().Set(ctx, u.ID, "Security.CrmAdmin", "True")
	require.NoError(t, err)
	_, err = f.acc.UserAttributes().Set(ctx, u.ID, "security.denied", "False")
	require.NoError(t, err)
	_, err = f.acc.UserAttributes().Set(ctx, u.ID, "timezone", "True")
	require.NoError(t, err)

	sales := f.role(t, "Sales", false, "security.marketingadmin", "security.reports")
	support := f.role(t, "Support", false, "security.reports", "menu.home")
	f.assign(t, u, sales)
	f.assign(t, u, support)

	caps, err := f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Security.CrmAdmin", "security.marketingadmin", "security.reports"}, caps.Sorted())
}

func TestAggregator_EmptyForUnknownUser(t *testing.T) {
	f := setup(t)
	caps, err := f.agg.EffectiveCapabilities(context.Background(), f.acc, 999)
	require.NoError(t, err)
	assert.Empty(t, caps)
}

func TestAggregator_StaleRoleExcluded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	withStale := f.user(t, "stale")
	clean := f.user(t, "clean")
	sales := f.role(t, "Sales", false, "security.marketingadmin")
	f.assign(t, withStale, sales)
	f.assign(t, clean, sales)

	// A membership pointing at a role id that never existed.
	require.NoError(t, f.acc.UserRoles().Create(ctx, &models.UserRole{UserID: withStale.ID, RoleID: 4242}))
	// Attributes left behind for that missing role must not leak in.
	require.NoError(t, f.acc.RoleAttributes().SetValue(ctx, 4242, []string{"security.crmadmin"}, true))

	staleCaps, err := f.agg.EffectiveCapabilities(ctx, f.acc, withStale.ID)
	require.NoError(t, err)
	cleanCaps, err := f.agg.EffectiveCapabilities(ctx, f.acc, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, cleanCaps, staleCaps)
}

func TestAggregator_IdempotentAndIsolatedFromOtherUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u := f.user(t, "jdoe")
	other := f.user(t, "other")
	r := f.role(t, "Sales", false, "security.marketingadmin")
	f.assign(t, u, r)

	first, err := f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	second, err := f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = f.acc.UserAttributes().Set(ctx, other.ID, "security.crmadmin", "True")
	require.NoError(t, err)
	f.assign(t, other, f.role(t, "Other", false, "security.everything"))

	third, err := f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestAggregator_ReflectsChangesBetweenCalls(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u := f.user(t, "jdoe")
	r := f.role(t, "Sales", false, "security.marketingadmin")
	f.assign(t, u, r)

	caps, err := f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	assert.True(t, caps.Has("security.marketingadmin"))

	require.NoError(t, f.acc.RoleAttributes().SetValue(ctx, r.ID, []string{"security.marketingadmin"}, false))

	caps, err = f.agg.EffectiveCapabilities(ctx, f.acc, u.ID)
	require.NoError(t, err)
	assert.False(t, caps.Has("security.marketingadmin"))
}

func TestMemo_CachesWithinRequest(t *testing.T) {
	f := setup(t)
	ctx := WithMemo(context.Background(), f.agg)

	u := f.user(t, "jdoe")
	_, err := f.acc.UserAttributes().Set(ctx, u.ID, "security.crmadmin", "True")
	require.NoError(t, err)

	first, err := Capabilities(ctx, f.agg, f.acc, u.ID)
	require.NoError(t, err)
	assert.True(t, first.Has("security.crmadmin"))

	_, err = f.acc.UserAttributes().Set(ctx, u.ID, "security.crmadmin", "False")
	require.NoError(t, err)

	cached, err := Capabilities(ctx, f.agg, f.acc, u.ID)
	require.NoError(t, err)
	assert.True(t, cached.Has("security.crmadmin"), "memo lives for the whole request")

	memo, ok := MemoFromContext(ctx)
	require.True(t, ok)
	memo.Forget(f.acc, u.ID)

	fresh, err := Capabilities(ctx, f.agg, f.acc, u.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Has("security.crmadmin"))

	// A new request starts with a fresh memo.
	uncached, err := Capabilities(context.Background(), f.agg, f.acc, u.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh, uncached)
}

func TestGate_DefaultPolicy(t *testing.T) {
	gate, err := NewGate("", nil)
	require.NoError(t, err)

	required, err := gate.Required(ObjectUsers, ActionList)
	require.NoError(t, err)
	assert.Equal(t, []string{CapabilityCRMAdmin, CapabilityMarketingAdmin}, required.Sorted())

	ok, err := gate.Allow(NewCapabilitySet(CapabilityMarketingAdmin), ObjectUsers, ActionCreate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Allow(NewCapabilitySet("security.reports"), ObjectUsers, ActionList)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.Allow(NewCapabilitySet(CapabilityCRMAdmin), "unknown", "act")
	require.NoError(t, err)
	assert.False(t, ok, "routes without policy admit nobody")
}

func TestGate_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte("p, security.useradmin, users, list\n"), 0o600))

	gate, err := NewGate(path, nil)
	require.NoError(t, err)

	ok, err := gate.Allow(NewCapabilitySet("security.useradmin"), ObjectUsers, ActionList)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Allow(NewCapabilitySet(CapabilityCRMAdmin), ObjectUsers, ActionList)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_AdminChecks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := f.user(t, "admin")
	plain := f.user(t, "plain")
	f.assign(t, admin, f.role(t, AdminRoleName, true))
	adminNav := f.role(t, AdminNavigationName, false)
	sales := f.role(t, "Sales", false)

	isAdmin, err := f.gate.IsAdmin(ctx, f.acc, admin.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = f.gate.IsAdmin(ctx, f.acc, plain.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	assert.NoError(t, f.gate.CheckRoleGrant(ctx, f.acc, plain.ID, sales))
	assert.ErrorIs(t, f.gate.CheckRoleGrant(ctx, f.acc, plain.ID, adminNav), errs.ErrForbidden)
	assert.NoError(t, f.gate.CheckRoleGrant(ctx, f.acc, admin.ID, adminNav))
	assert.ErrorIs(t, f.gate.RequireAdmin(ctx, f.acc, plain.ID), errs.ErrForbidden)

	ok, err := f.gate.CanAlter(ctx, f.acc, plain, plain)
	require.NoError(t, err)
	assert.True(t, ok, "owners may alter their own record")

	ok, err = f.gate.CanAlter(ctx, f.acc, plain, admin)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.gate.CanAlter(ctx, f.acc, admin, plain)
	require.NoError(t, err)
	assert.True(t, ok, "admins may alter anyone")
}

func TestGate_AdminRoleWithoutDataAccess(t *testing.T) {
	f := setup(t)
	u := f.user(t, "jdoe")
	f.assign(t, u, f.role(t, AdminRoleName, false))

	isAdmin, err := f.gate.IsAdmin(context.Background(), f.acc, u.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestOwns(t *testing.T) {
	u := &models.User{UserName: "jdoe"}
	assert.True(t, Owns("jdoe", u))
	assert.False(t, Owns("jane", u))
	assert.False(t, Owns("", &models.User{}))
	assert.False(t, Owns("jdoe", nil))
}
