package tenancy

import (
	"context"
	"database/sql"
	"sync"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/uptrace/bun"
)

// Accessor is bound to one customer database. Inside RunInTx the accessor
// handed to the callback is bound to the transaction instead.
type Accessor struct {
	tenant *models.Customer
	db     bun.IDB
	root   *bun.DB

	release     func()
	releaseOnce sync.Once
}

// NewAccessor binds db to tenant.
func NewAccessor(tenant *models.Customer, db *bun.DB) *Accessor {
	return &Accessor{tenant: tenant, db: db, root: db}
}

// Tenant returns the customer this accessor is bound to.
func (a *Accessor) Tenant() *models.Customer { return a.tenant }

// DB returns the connection or transaction queries run on.
func (a *Accessor) DB() bun.IDB { return a.db }

// Release hands the connection back to the gateway. The accessor must not be
// used afterwards. Calling it more than once is harmless.
func (a *Accessor) Release() {
	if a.release == nil {
		return
	}
	a.releaseOnce.Do(a.release)
}

// InTx reports whether the accessor is bound to a transaction.
func (a *Accessor) InTx() bool {
	_, ok := a.db.(bun.Tx)
	return ok
}

func (a *Accessor) Users() repository.UserRepository {
	return repository.NewBunUserRepository(a.db)
}

func (a *Accessor) UserAttributes() repository.UserAttributeRepository {
	return repository.NewBunUserAttributeRepository(a.db)
}

func (a *Accessor) Roles() repository.RoleRepository {
	return repository.NewBunRoleRepository(a.db)
}

func (a *Accessor) RoleAttributes() repository.RoleAttributeRepository {
	return repository.NewBunRoleAttributeRepository(a.db)
}

func (a *Accessor) UserRoles() repository.UserRoleRepository {
	return repository.NewBunUserRoleRepository(a.db)
}

func (a *Accessor) Messages() repository.MessageRepository {
	return repository.NewBunMessageRepository(a.db)
}

// RunInTx runs fn in a single transaction on the tenant's connection. Any
// error returned by fn rolls back every write made through the inner
// accessor. Nested calls join the outer transaction.
func (a *Accessor) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Accessor) error) error {
	if a.InTx() {
		return fn(ctx, a)
	}
	return a.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Accessor{tenant: a.tenant, db: tx, root: a.root})
	})
}

// Collection returns the generic CRUD handle for model T on this tenant.
func Collection[T any](a *Accessor) *bunx.Collection[T] {
	return bunx.NewCollection[T](a.db)
}
