package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy/tenancytest"
)

// mockAuthenticator is a mock implementation of the login service for testing
type mockAuthenticator struct {
	authenticateFunc  func(ctx context.Context, identity, password string) (*models.SessionIdentity, error)
	validateTokenFunc func(ctx context.Context, token string, method auth.Method) (auth.AuthenticatedPrincipal, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, identity, password string) (*models.SessionIdentity, error) {
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, identity, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthenticator) ValidateToken(ctx context.Context, token string, method auth.Method) (auth.AuthenticatedPrincipal, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token, method)
	}
	return auth.AuthenticatedPrincipal{}, errors.New("not implemented")
}

func tokenAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		validateTokenFunc: func(_ context.Context, token string, method auth.Method) (auth.AuthenticatedPrincipal, error) {
			if token != "good" {
				return auth.AuthenticatedPrincipal{}, errs.ErrAuthenticationDenied
			}
			return auth.AuthenticatedPrincipal{
				Username: "jdoe@acme",
				Identity: tenancy.Resolve("jdoe@acme"),
				TokenID:  "jti-1",
				Method:   method,
			}, nil
		},
		authenticateFunc: func(_ context.Context, identity, password string) (*models.SessionIdentity, error) {
			if password != "s3cret" {
				return nil, errs.ErrAuthenticationDenied
			}
			return &models.SessionIdentity{Username: identity}, nil
		},
	}
}

// principalEcho writes the method and username of the authenticated principal.
var principalEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "no principal", http.StatusInternalServerError)
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s %s", p.Method, p.Username, p.Identity.Tenant)
})

func TestAuthn_CredentialSources(t *testing.T) {
	mw, err := NewAuthnMiddleware(AuthnDependencies{Login: tokenAuthenticator()})
	require.NoError(t, err)
	handler := mw(principalEcho)

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		url      string
		wantCode int
		wantBody string
	}{
		{
			name:     "bearer header",
			url:      "/api/me",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") },
			wantCode: http.StatusOK,
			wantBody: "bearer jdoe@acme acme",
		},
		{
			name:     "query token",
			url:      "/api/me?token=good",
			wantCode: http.StatusOK,
			wantBody: "query jdoe@acme acme",
		},
		{
			name:     "basic",
			url:      "/api/me",
			prepare:  func(r *http.Request) { r.SetBasicAuth("jane@globex", "s3cret") },
			wantCode: http.StatusOK,
			wantBody: "basic jane@globex globex",
		},
		{
			name:     "bearer wins over query",
			url:      "/api/me?token=bad",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "bearer good") },
			wantCode: http.StatusOK,
			wantBody: "bearer jdoe@acme acme",
		},
		{
			name:     "bad token",
			url:      "/api/me",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "bad basic password",
			url:      "/api/me",
			prepare:  func(r *http.Request) { r.SetBasicAuth("jane@globex", "nope") },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "no credentials",
			url:      "/api/me",
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuthn_ErrorResponder(t *testing.T) {
	var got error
	mw, err := NewAuthnMiddleware(AuthnDependencies{
		Login: tokenAuthenticator(),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mw(principalEcho).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, errs.ErrUnauthenticated)

	_, err = NewAuthnMiddleware(AuthnDependencies{})
	assert.Error(t, err)
}

// scoped runs the tenant scope for a principal and reports the tenant the
// handler observed.
func scoped(t *testing.T, mw func(http.Handler) http.Handler, username, override string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	return scopedAs(t, mw, username, false, override)
}

func scopedAs(t *testing.T, mw func(http.Handler) http.Handler, username string, operator bool, override string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, ok := tenancy.AccessorFromContext(r.Context())
		require.True(t, ok)
		_, ok = permissions.MemoFromContext(r.Context())
		require.True(t, ok)
		tc, ok := tenancy.FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, tenancy.Resolve(username).Local, tc.LocalIdentifier)
		seen = acc.Tenant().DomainName
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if override != "" {
		req.Header.Set(CustomerIDHeader, override)
	}
	if username != "" {
		req = req.WithContext(auth.SetUserContext(req.Context(), auth.AuthenticatedPrincipal{
			Username: username,
			Identity: tenancy.Resolve(username),
			Operator: operator,
		}))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestTenantScope(t *testing.T) {
	env := tenancytest.New(t)
	env.AddTenant(t, "acme", "sha256")
	globex, _ := env.AddTenant(t, "globex", "sha256")

	mw, err := NewTenantScope(TenantDependencies{
		Gateway:    env.Gateway,
		Aggregator: permissions.NewAggregator(nil),
	})
	require.NoError(t, err)

	rec, seen := scoped(t, mw, "jdoe@acme", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acme", seen)

	rec, seen = scopedAs(t, mw, "ops@acme", true, strconv.FormatInt(globex.ID, 10))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "globex", seen, "operator override wins over the identity domain")

	rec, seen = scopedAs(t, mw, "ops@acme", true, "globex")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "globex", seen)

	rec, seen = scoped(t, mw, "jdoe@acme", "acme")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acme", seen, "naming one's own customer is allowed")

	rec, seen = scoped(t, mw, "jdoe@acme", "globex")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, seen, "only operators may switch customer")

	rec, seen = scoped(t, mw, "jdoe@acme", strconv.FormatInt(globex.ID, 10))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, seen)

	rec, _ = scoped(t, mw, "jdoe@initech", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = scoped(t, mw, "jdoe", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = scoped(t, mw, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTenantScope_ConcurrentRequestsStayIsolated(t *testing.T) {
	env := tenancytest.New(t)
	_, acme := env.AddTenant(t, "acme", "sha256")
	_, globex := env.AddTenant(t, "globex", "sha256")
	ctx := context.Background()
	require.NoError(t, acme.Users().Create(ctx, &models.User{UserName: "jdoe", LastName: "Acme", Status: models.UserStatusActive}))
	require.NoError(t, globex.Users().Create(ctx, &models.User{UserName: "jdoe", LastName: "Globex", Status: models.UserStatusActive}))

	mw, err := NewTenantScope(TenantDependencies{
		Gateway:    env.Gateway,
		Aggregator: permissions.NewAggregator(nil),
	})
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, _ := tenancy.AccessorFromContext(r.Context())
		users, err := acc.Users().FindByUserName(r.Context(), "jdoe")
		if err != nil || len(users) != 1 {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(users[0].LastName))
	}))

	const rounds = 25
	var wg sync.WaitGroup
	failures := make(chan string, rounds*2)
	for i := 0; i < rounds; i++ {
		for username, want := range map[string]string{"jdoe@acme": "Acme", "jdoe@globex": "Globex"} {
			wg.Add(1)
			go func(username, want string) {
				defer wg.Done()
				req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
				req = req.WithContext(auth.SetUserContext(req.Context(), auth.AuthenticatedPrincipal{
					Username: username,
					Identity: tenancy.Resolve(username),
				}))
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				if rec.Body.String() != want {
					failures <- fmt.Sprintf("%s saw %q", username, rec.Body.String())
				}
			}(username, want)
		}
	}
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Error(f)
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	authn, err := NewAuthnMiddleware(AuthnDependencies{Login: tokenAuthenticator()})
	require.NoError(t, err)

	handler := chimw.RequestID(AccessLog(zap.New(core))(authn(RecordPrincipal(principalEcho))))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/me", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, "jdoe@acme", fields["principal"])
	assert.NotEmpty(t, fields["request_id"])
}
