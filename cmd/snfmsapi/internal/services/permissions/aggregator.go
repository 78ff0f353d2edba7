package permissions

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Aggregator computes effective capabilities from the tenant store. It keeps
// no state between calls.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// EffectiveCapabilities returns the union of the user's granted security
// attributes and those of every role the user holds that still exists.
// Memberships pointing at deleted roles are skipped.
func (a *Aggregator) EffectiveCapabilities(ctx context.Context, acc *tenancy.Accessor, userID int64) (CapabilitySet, error) {
	direct, err := acc.UserAttributes().SecurityGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("direct capabilities: %w", err)
	}

	roleIDs, err := acc.UserRoles().RoleIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("role memberships: %w", err)
	}

	valid, err := acc.Roles().ExistingIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("validate roles: %w", err)
	}
	if stale := len(roleIDs) - len(valid); stale > 0 {
		a.logger.Debug("skipping stale role memberships",
			zap.Int64("user_id", userID),
			zap.Int64("customer_id", acc.Tenant().ID),
			zap.Int("stale", stale))
	}

	inherited, err := acc.RoleAttributes().SecurityGrants(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("role capabilities: %w", err)
	}

	set := NewCapabilitySet(direct...)
	set.Add(inherited...)
	return set, nil
}

// Memo caches effective capabilities for the lifetime of one request.
type Memo struct {
	agg *Aggregator

	mu   sync.Mutex
	sets map[memoKey]CapabilitySet
}

type memoKey struct {
	customerID int64
	userID     int64
}

// NewMemo creates a request-scoped cache in front of agg.
func NewMemo(agg *Aggregator) *Memo {
	return &Memo{agg: agg, sets: make(map[memoKey]CapabilitySet)}
}

// EffectiveCapabilities returns the memoized set, computing it on first use.
func (m *Memo) EffectiveCapabilities(ctx context.Context, acc *tenancy.Accessor, userID int64) (CapabilitySet, error) {
	key := memoKey{customerID: acc.Tenant().ID, userID: userID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[key]; ok {
		return set.Clone(), nil
	}
	set, err := m.agg.EffectiveCapabilities(ctx, acc, userID)
	if err != nil {
		return nil, err
	}
	m.sets[key] = set
	return set.Clone(), nil
}

// Forget drops a cached entry after a write in the same request changed it.
func (m *Memo) Forget(acc *tenancy.Accessor, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, memoKey{customerID: acc.Tenant().ID, userID: userID})
}

type memoContextKey struct{}

// WithMemo attaches a fresh memo to the request context.
func WithMemo(ctx context.Context, agg *Aggregator) context.Context {
	return context.WithValue(ctx, memoContextKey{}, NewMemo(agg))
}

// MemoFromContext returns the request memo, if any.
func MemoFromContext(ctx context.Context) (*Memo, bool) {
	m, ok := ctx.Value(memoContextKey{}).(*Memo)
	return m, ok && m != nil
}

// Capabilities uses the request memo when present and agg otherwise.
func Capabilities(ctx context.Context, agg *Aggregator, acc *tenancy.Accessor, userID int64) (CapabilitySet, error) {
	if m, ok := MemoFromContext(ctx); ok {
		return m.EffectiveCapabilities(ctx, acc, userID)
	}
	return agg.EffectiveCapabilities(ctx, acc, userID)
}
