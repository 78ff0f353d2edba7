package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
)

const defaultPoolSize = 64

// Opener opens the database behind a customer's connection string.
type Opener func(dsn string) (*bun.DB, error)

// Gateway resolves tenant identifiers to accessors. Open connections are
// kept in an LRU keyed by customer id; entities are never cached. A
// connection evicted while accessors still hold it is closed when the last
// of them is released.
type Gateway struct {
	customers repository.CustomerRepository
	open      Opener
	logger    *zap.Logger

	mu       sync.Mutex
	pool     *lru.Cache[int64, *pooledDB]
	draining map[*pooledDB]struct{}
	closed   bool
}

// pooledDB is one tenant connection with the number of accessors using it.
// Fields are guarded by Gateway.mu.
type pooledDB struct {
	id      int64
	db      *bun.DB
	refs    int
	evicted bool
	closed  bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	poolSize int
	open     Opener
	logger   *zap.Logger
}

// WithPoolSize bounds the number of tenant databases kept open.
func WithPoolSize(n int) GatewayOption {
	return func(o *gatewayOptions) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithOpener replaces bunx.NewDB as the connection factory.
func WithOpener(open Opener) GatewayOption {
	return func(o *gatewayOptions) {
		if open != nil {
			o.open = open
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewGateway builds a gateway that looks tenants up in customers.
func NewGateway(customers repository.CustomerRepository, opts ...GatewayOption) (*Gateway, error) {
	o := gatewayOptions{
		poolSize: defaultPoolSize,
		open:     bunx.NewDB,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		customers: customers,
		open:      o.open,
		logger:    o.logger,
		draining:  make(map[*pooledDB]struct{}),
	}
	// The pool is only mutated with g.mu held, so the callback runs under it.
	pool, err := lru.NewWithEvict(o.poolSize, func(_ int64, p *pooledDB) {
		p.evicted = true
		if p.refs == 0 || g.closed {
			g.retire(p)
			return
		}
		g.draining[p] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant pool: %w", err)
	}
	g.pool = pool
	return g, nil
}

// ForTenant returns an accessor for the customer named by identifier, which
// may be the numeric customer id or the domain name. A numeric identifier is
// tried as an id first and falls back to a domain lookup.
func (g *Gateway) ForTenant(ctx context.Context, identifier string) (*Accessor, error) {
	customer, err := g.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	p, err := g.acquire(customer)
	if err != nil {
		return nil, err
	}
	acc := NewAccessor(customer, p.db)
	acc.release = func() { g.release(p) }
	return acc, nil
}

// FromContext returns the accessor for the tenant selected in ctx.
func (g *Gateway) FromContext(ctx context.Context) (*Accessor, error) {
	tc, ok := FromContext(ctx)
	if !ok || !tc.Scoped() {
		return nil, errs.ErrNoTenant
	}
	return g.ForTenant(ctx, tc.TenantIdentifier)
}

// Lookup resolves identifier to a customer record.
func (g *Gateway) Lookup(ctx context.Context, identifier string) (*models.Customer, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errs.ErrNoTenant
	}

	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		customer, err := g.customers.GetByID(ctx, id)
		if err == nil {
			return customer, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("lookup tenant %d: %w", id, err)
		}
	}

	customer, err := g.customers.GetByDomain(ctx, identifier)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", identifier, errs.ErrTenantNotFound)
		}
		return nil, fmt.Errorf("lookup tenant %s: %w", identifier, err)
	}
	return customer, nil
}

// acquire returns the pooled connection for customer, opening it on first
// use, and counts the caller as a user of it.
func (g *Gateway) acquire(customer *models.Customer) (*pooledDB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errors.New("tenant gateway is closed")
	}
	if p, ok := g.pool.Get(customer.ID); ok {
		p.refs++
		return p, nil
	}

	db, err := g.open(customer.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open tenant %d database: %w", customer.ID, err)
	}
	p := &pooledDB{id: customer.ID, db: db, refs: 1}
	g.pool.Add(customer.ID, p)
	g.logger.Info("opened tenant connection",
		zap.Int64("customer_id", customer.ID),
		zap.String("domain", customer.DomainName))
	return p, nil
}

func (g *Gateway) release(p *pooledDB) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p.refs > 0 {
		p.refs--
	}
	if p.evicted && p.refs == 0 {
		g.retire(p)
	}
}

// retire closes an evicted connection. The caller holds g.mu.
func (g *Gateway) retire(p *pooledDB) {
	delete(g.draining, p)
	if p.closed {
		return
	}
	p.closed = true
	g.logger.Info("closing tenant connection", zap.Int64("customer_id", p.id))
	if err := p.db.Close(); err != nil {
		g.logger.Warn("close tenant connection", zap.Int64("customer_id", p.id), zap.Error(err))
	}
}

// Close closes every tenant connection, including those still held by
// accessors. The gateway cannot be used afterwards.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.pool.Purge()
	for p := range g.draining {
		g.retire(p)
	}
}
