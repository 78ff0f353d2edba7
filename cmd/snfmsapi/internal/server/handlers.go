package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/middleware"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/login"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/messages"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/roles"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/users"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

const maxBodyBytes = 1 << 20

// api binds the HTTP surface to the domain services.
type api struct {
	login     *login.Service
	users     *users.Service
	roles     *roles.Service
	messages  *messages.Service
	validator *BodyValidator
	logger    *zap.Logger
	fail      middleware.ErrorResponder
}

// decode reads a JSON body, checks it against schema when one is named, and
// unmarshals it into out.
func (a *api) decode(w http.ResponseWriter, r *http.Request, schema string, out any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errs.ErrInvalidInput, err)
	}
	if schema != "" {
		if err := a.validator.Validate(schema, body); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}

// scope returns the request's accessor and the tenant user behind the
// authenticated principal.
func (a *api) scope(r *http.Request) (*tenancy.Accessor, *models.User, error) {
	ctx := r.Context()
	acc, ok := tenancy.AccessorFromContext(ctx)
	if !ok {
		return nil, nil, errs.ErrNoTenant
	}
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, nil, errs.ErrNoTenant
	}
	actor, err := a.users.Current(ctx, acc, tc.LocalIdentifier)
	if err != nil {
		return nil, nil, err
	}
	return acc, actor, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errs.ErrInvalidInput, name)
	}
	return id, nil
}

// list writes items after applying the ?filter= expression.
func list[T any](a *api, w http.ResponseWriter, r *http.Request, items []T) {
	filtered, err := applyFilter(r, items)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if filtered == nil {
		filtered = []T{}
	}
	writeJSON(w, http.StatusOK, filtered)
}

// ========================================
// Authentication
// ========================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a freshly issued session token.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
	Username  string `json:"username"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := a.decode(w, r, SchemaLogin, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	token, claims, err := a.login.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Unix(),
		Username:  claims.Subject,
	})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		a.fail(w, r, errs.ErrUnauthenticated)
		return
	}
	if err := a.login.Logout(r.Context(), principal); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ========================================
// Users
// ========================================

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.users.Me(r.Context(), acc, actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) handleListUsers(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.users.List(r.Context(), acc, actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

func (a *api) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req users.CreateRequest
	if err := a.decode(w, r, SchemaUserCreate, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.users.Create(r.Context(), acc, actor, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *api) handleGetUser(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.users.Get(r.Context(), acc, actor, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *api) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var input map[string]any
	if err := a.decode(w, r, "", &input); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.users.Update(r.Context(), acc, actor, id, input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *api) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.users.Roles(r.Context(), acc, actor, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

// AssignRoleRequest is the body of POST /api/users/{id}/roles.
type AssignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

func (a *api) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req AssignRoleRequest
	if err := a.decode(w, r, SchemaRoleAssign, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	membership, err := a.users.AssignRole(r.Context(), acc, actor, id, req.RoleID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, membership)
}

func (a *api) handleUserAttributes(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.users.Attributes(r.Context(), acc, actor, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

// AttributeValue is the body of PUT /api/users/{id}/attributes/{name}.
type AttributeValue struct {
	Value string `json:"value"`
}

func (a *api) handleSetUserAttribute(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req AttributeValue
	if err := a.decode(w, r, SchemaAttributeSet, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	attr, err := a.users.SetAttribute(r.Context(), acc, actor, id, chi.URLParam(r, "name"), req.Value)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attr)
}

// ========================================
// Roles
// ========================================

func (a *api) handleListRoles(w http.ResponseWriter, r *http.Request) {
	acc, _, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.roles.List(r.Context(), acc)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

func (a *api) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req roles.CreateRequest
	if err := a.decode(w, r, SchemaRoleCreate, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Create(r.Context(), acc, actor, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *api) handleGetRole(w http.ResponseWriter, r *http.Request) {
	acc, _, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Get(r.Context(), acc, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *api) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var input map[string]any
	if err := a.decode(w, r, "", &input); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Update(r.Context(), acc, actor, id, input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *api) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.roles.Delete(r.Context(), acc, actor, id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleCloneRole(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req roles.CloneRequest
	if err := a.decode(w, r, SchemaRoleClone, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Clone(r.Context(), acc, actor, id, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *api) handleRoleUsers(w http.ResponseWriter, r *http.Request) {
	acc, _, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.roles.Users(r.Context(), acc, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

func (a *api) handleUnlinkedUsers(w http.ResponseWriter, r *http.Request) {
	acc, _, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.roles.Unlinked(r.Context(), acc, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

// MembershipResult reports how many memberships a bulk call changed.
type MembershipResult struct {
	Attached *int   `json:"attached,omitempty"`
	Detached *int64 `json:"detached,omitempty"`
}

func (a *api) handleAttachUsers(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var sel roles.Selection
	if err := a.decode(w, r, SchemaSelection, &sel); err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.roles.Attach(r.Context(), acc, actor, id, sel)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MembershipResult{Attached: &n})
}

func (a *api) handleDetachUsers(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var sel roles.Selection
	if err := a.decode(w, r, SchemaSelection, &sel); err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.roles.Detach(r.Context(), acc, actor, id, sel)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MembershipResult{Detached: &n})
}

func (a *api) handleRoleAttributes(w http.ResponseWriter, r *http.Request) {
	acc, _, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.roles.Attributes(r.Context(), acc, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

// AttributeNames is the body of the role attribute bulk endpoints.
type AttributeNames struct {
	Names []string `json:"names"`
}

func (a *api) handleSetRoleAttributes(granted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, actor, err := a.scope(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		var req AttributeNames
		if err := a.decode(w, r, SchemaAttributeNames, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		if granted {
			err = a.roles.AddAttributes(r.Context(), acc, actor, id, req.Names)
		} else {
			err = a.roles.RemoveAttributes(r.Context(), acc, actor, id, req.Names)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		items, err := a.roles.Attributes(r.Context(), acc, id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		list(a, w, r, items)
	}
}

// ========================================
// Messages
// ========================================

func (a *api) handleListMessages(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.messages.List(r.Context(), acc, actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list(a, w, r, items)
}

func (a *api) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req messages.CreateRequest
	if err := a.decode(w, r, SchemaMessageCreate, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.messages.Create(r.Context(), acc, actor, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *api) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.messages.Get(r.Context(), acc, actor, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var input map[string]any
	if err := a.decode(w, r, "", &input); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.messages.Update(r.Context(), acc, actor, id, input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	acc, actor, err := a.scope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.messages.Delete(r.Context(), acc, actor, id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
