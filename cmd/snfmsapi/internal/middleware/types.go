package middleware

import (
	"context"
	"net/http"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
)

// CustomerIDHeader carries the administrative tenant override.
const CustomerIDHeader = "X-Customer-ID"

// Authenticator verifies request credentials. It is satisfied by *login.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, identity, password string) (*models.SessionIdentity, error)
	ValidateToken(ctx context.Context, token string, method auth.Method) (auth.AuthenticatedPrincipal, error)
}

// ErrorResponder writes err to the client. The server package supplies one
// that renders the JSON error body; plainError is used otherwise.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

func plainError(status int) ErrorResponder {
	return func(w http.ResponseWriter, _ *http.Request, err error) {
		http.Error(w, err.Error(), status)
	}
}
