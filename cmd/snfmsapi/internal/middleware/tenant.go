package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// TenantDependencies bundles collaborators required by the tenant scope middleware.
type TenantDependencies struct {
	Gateway    *tenancy.Gateway
	Aggregator *permissions.Aggregator
	Logger     *zap.Logger
	OnError    ErrorResponder
}

// NewTenantScope selects the tenant for an authenticated request. The tenant
// comes from the principal's identity. Operator principals may select another
// customer with the X-Customer-ID header; anyone else naming a customer other
// than their own is refused with errs.ErrForbidden. The request context
// receives the tenant context, the accessor for that tenant, and a fresh
// capability memo. The accessor is released when the request finishes.
func NewTenantScope(deps TenantDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Gateway == nil {
		return nil, errors.New("tenant scope requires a gateway")
	}
	if deps.Aggregator == nil {
		return nil, errors.New("tenant scope requires a permission aggregator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onError := deps.OnError
	if onError == nil {
		onError = plainError(http.StatusForbidden)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.GetUserFromContext(r.Context())
			if !ok {
				onError(w, r, errs.ErrUnauthenticated)
				return
			}

			override := strings.TrimSpace(r.Header.Get(CustomerIDHeader))
			if override != "" && override != tenancy.Resolve(principal.Username).Tenant && !principal.Operator {
				logger.Warn("tenant override refused",
					zap.String("principal", principal.Username),
					zap.String("requested", override))
				onError(w, r, fmt.Errorf("%s requires an operator identity: %w", CustomerIDHeader, errs.ErrForbidden))
				return
			}

			id := tenancy.ResolveWithOverride(principal.Username, override)
			if !id.HasTenant || id.Tenant == "" {
				onError(w, r, errs.ErrNoTenant)
				return
			}

			ctx := tenancy.WithTenant(r.Context(), id.Context())
			acc, err := deps.Gateway.FromContext(ctx)
			if err != nil {
				if !errors.Is(err, errs.ErrTenantNotFound) && !errors.Is(err, errs.ErrNoTenant) {
					logger.Error("open tenant", zap.String("tenant", id.Tenant), zap.Error(err))
				}
				onError(w, r, err)
				return
			}

			defer acc.Release()

			ctx = tenancy.WithAccessor(ctx, acc)
			ctx = permissions.WithMemo(ctx, deps.Aggregator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}
