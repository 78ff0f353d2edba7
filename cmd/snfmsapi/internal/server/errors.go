package server

import (
	"encoding/json"
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/middleware"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Error codes carried in ErrorBody.Error.
const (
	CodeAuthenticationDenied = "authentication_denied"
	CodeNotAuthenticated     = "not_authenticated"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeDuplicateAssignment  = "duplicate_assignment"
	CodeAlreadyExists        = "already_exists"
	CodeDuplicateUsers       = "duplicate_users"
	CodeInvalidInput         = "invalid_input"
	CodeInternal             = "internal_error"
)

// classify maps an error onto its HTTP status and code. The order matters:
// ErrUserRoleAlreadyAssigned is checked before the generic conflict.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrAuthenticationDenied):
		return http.StatusUnauthorized, CodeAuthenticationDenied
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeNotAuthenticated
	case errors.Is(err, errs.ErrNoTenant),
		errors.Is(err, errs.ErrTenantNotFound),
		errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errs.ErrUserRoleAlreadyAssigned):
		return http.StatusConflict, CodeDuplicateAssignment
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, errs.ErrDuplicateUsers):
		return http.StatusInternalServerError, CodeDuplicateUsers
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// detail picks the client-facing message. Denials use the sentinel text so
// the cause of a failed login never leaks; internal errors are opaque.
func detail(err error, status int, code string) string {
	switch code {
	case CodeAuthenticationDenied:
		return errs.ErrAuthenticationDenied.Error()
	case CodeNotAuthenticated:
		return errs.ErrUnauthenticated.Error()
	case CodeForbidden:
		return errs.ErrForbidden.Error()
	case CodeDuplicateUsers:
		return errs.ErrDuplicateUsers.Error()
	}
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

// NewErrorResponder returns the function every handler and middleware uses
// to report failures. 5xx responses are logged at error level.
func NewErrorResponder(logger *zap.Logger) middleware.ErrorResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("code", code),
				zap.Error(err))
		}
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="snfms"`)
		}
		writeJSON(w, status, ErrorBody{Error: code, Detail: detail(err, status, code)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
