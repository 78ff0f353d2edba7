// Package tenancytest builds throwaway controller and tenant databases on
// in-memory SQLite for tests.
package tenancytest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/migrations"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

var seq atomic.Int64

// Env is a controller database plus a gateway over it.
type Env struct {
	Controller *bun.DB
	Customers  repository.CustomerRepository
	Gateway    *tenancy.Gateway
	prefix     string
}

// New creates an Env whose databases are closed when t finishes.
func New(t testing.TB, opts ...tenancy.GatewayOption) *Env {
	t.Helper()

	prefix := fmt.Sprintf("%s_%d", sanitize(t.Name()), seq.Add(1))
	controller, err := bunx.NewDB(memoryDSN(prefix + "_controller"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(controller) })

	_, err = migrations.Up(context.Background(), controller, migrations.Controller)
	require.NoError(t, err)

	customers := repository.NewBunCustomerRepository(controller)
	gw, err := tenancy.NewGateway(customers, opts...)
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	return &Env{Controller: controller, Customers: customers, Gateway: gw, prefix: prefix}
}

// AddTenant registers an active, login-enabled customer with a migrated
// database and returns it together with an accessor held until t finishes.
func (e *Env) AddTenant(t testing.TB, domain, scheme string) (*models.Customer, *tenancy.Accessor) {
	t.Helper()

	customer := &models.Customer{
		Name:             strings.ToUpper(domain[:1]) + domain[1:],
		DomainName:       domain,
		ProcessActive:    true,
		LoginEnabled:     true,
		ConnectionString: memoryDSN(e.prefix + "_" + sanitize(domain)),
		CredentialScheme: scheme,
	}
	require.NoError(t, e.Customers.Create(context.Background(), customer))

	acc, err := e.Gateway.ForTenant(context.Background(), domain)
	require.NoError(t, err)
	t.Cleanup(acc.Release)

	db, ok := acc.DB().(*bun.DB)
	require.True(t, ok)
	_, err = migrations.Up(context.Background(), db, migrations.Tenant)
	require.NoError(t, err)

	return customer, acc
}

func memoryDSN(name string) string {
	return "file:" + name + "?mode=memory&cache=shared"
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", " ", "_", ".", "_", "#", "_").Replace(s)
}
