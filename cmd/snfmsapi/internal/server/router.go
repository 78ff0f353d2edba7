package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	snfmsmiddleware "github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/middleware"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/login"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/messages"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/roles"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/users"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// RouterOptions controls the construction of the HTTP router.
// Login, Users, Roles, Messages, Gateway and Aggregator are required.
type RouterOptions struct {
	Login      *login.Service
	Users      *users.Service
	Roles      *roles.Service
	Messages   *messages.Service
	Gateway    *tenancy.Gateway
	Aggregator *permissions.Aggregator
	Validator  *BodyValidator
	Logger     *zap.Logger

	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			snfmsmiddleware.CustomerIDHeader,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the REST handlers mounted.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.Login == nil || opts.Users == nil || opts.Roles == nil || opts.Messages == nil {
		return nil, errors.New("router requires the login, users, roles and messages services")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := opts.Validator
	if validator == nil {
		v, err := NewBodyValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	fail := NewErrorResponder(logger)

	authn, err := snfmsmiddleware.NewAuthnMiddleware(snfmsmiddleware.AuthnDependencies{
		Login:   opts.Login,
		Logger:  logger,
		OnError: fail,
	})
	if err != nil {
		return nil, err
	}
	tenantScope, err := snfmsmiddleware.NewTenantScope(snfmsmiddleware.TenantDependencies{
		Gateway:    opts.Gateway,
		Aggregator: opts.Aggregator,
		Logger:     logger,
		OnError:    fail,
	})
	if err != nil {
		return nil, err
	}

	a := &api{
		login:     opts.Login,
		users:     opts.Users,
		roles:     opts.Roles,
		messages:  opts.Messages,
		validator: validator,
		logger:    logger,
		fail:      fail,
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(snfmsmiddleware.AccessLog(logger))
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	r.Post("/auth/login", a.handleLogin)
	r.With(authn, snfmsmiddleware.RecordPrincipal).Post("/auth/logout", a.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(authn, snfmsmiddleware.RecordPrincipal, tenantScope)

		r.Get("/me", a.handleMe)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Get("/", a.handleGetUser)
				r.Put("/", a.handleUpdateUser)
				r.Patch("/", a.handleUpdateUser)
				r.Get("/roles", a.handleUserRoles)
				r.Post("/roles", a.handleAssignRole)
				r.Get("/attributes", a.handleUserAttributes)
				r.Put("/attributes/{name}", a.handleSetUserAttribute)
			})
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.Post("/", a.handleCreateRole)
			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Get("/", a.handleGetRole)
				r.Patch("/", a.handleUpdateRole)
				r.Delete("/", a.handleDeleteRole)
				r.Post("/clone", a.handleCloneRole)
				r.Get("/users", a.handleRoleUsers)
				r.Post("/users", a.handleAttachUsers)
				r.Delete("/users", a.handleDetachUsers)
				r.Get("/users/unlinked", a.handleUnlinkedUsers)
				r.Get("/attributes", a.handleRoleAttributes)
				r.Post("/attributes", a.handleSetRoleAttributes(true))
				r.Delete("/attributes", a.handleSetRoleAttributes(false))
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", a.handleListMessages)
			r.Post("/", a.handleCreateMessage)
			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Get("/", a.handleGetMessage)
				r.Put("/", a.handleUpdateMessage)
				r.Patch("/", a.handleUpdateMessage)
				r.Delete("/", a.handleDeleteMessage)
			})
		})
	})

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	return h2c.NewHandler(router, &http2.Server{}), nil
}
