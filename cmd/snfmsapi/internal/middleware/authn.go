package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// AuthnDependencies bundles collaborators required by the authentication middleware.
type AuthnDependencies struct {
	Login   Authenticator
	Logger  *zap.Logger
	OnError ErrorResponder
}

// NewAuthnMiddleware authenticates every request and stores the principal on
// the context. Credentials are taken from, in order:
//
//   - Authorization: Bearer <token>
//   - the token query parameter
//   - HTTP Basic, which runs the full credential flow on each request
//
// Requests without credentials fail with errs.ErrUnauthenticated.
func NewAuthnMiddleware(deps AuthnDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Login == nil {
		return nil, errors.New("authn middleware requires an authenticator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onError := deps.OnError
	if onError == nil {
		onError = plainError(http.StatusUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				principal auth.AuthenticatedPrincipal
				err       error
			)
			if token, ok := bearerToken(r); ok {
				principal, err = deps.Login.ValidateToken(ctx, token, auth.MethodBearer)
			} else if token := r.URL.Query().Get("token"); token != "" {
				principal, err = deps.Login.ValidateToken(ctx, token, auth.MethodQuery)
			} else if username, password, ok := r.BasicAuth(); ok {
				principal, err = basicPrincipal(r, deps.Login, username, password)
			} else {
				err = errs.ErrUnauthenticated
			}

			if err != nil {
				if !errors.Is(err, errs.ErrAuthenticationDenied) && !errors.Is(err, errs.ErrUnauthenticated) {
					logger.Error("authentication error",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Error(err))
				}
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.SetUserContext(ctx, principal)))
		})
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func basicPrincipal(r *http.Request, login Authenticator, username, password string) (auth.AuthenticatedPrincipal, error) {
	session, err := login.Authenticate(r.Context(), username, password)
	if err != nil {
		return auth.AuthenticatedPrincipal{}, err
	}
	return auth.AuthenticatedPrincipal{
		Username: session.Username,
		Identity: tenancy.Resolve(session.Username),
		Method:   auth.MethodBasic,
		Operator: session.Operator,
	}, nil
}
