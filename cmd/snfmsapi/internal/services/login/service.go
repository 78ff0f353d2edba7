// Package login authenticates principals against their customer's user store
// and manages the session tokens issued afterwards.
package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Service runs the credential flow and issues, validates and revokes tokens.
type Service struct {
	customers  repository.CustomerRepository
	identities repository.SessionIdentityRepository
	revoked    repository.RevokedTokenRepository
	gateway    *tenancy.Gateway
	issuer     *auth.TokenIssuer
	cipher     *auth.Cipher
	logger     *zap.Logger
}

// Config bundles the collaborators of a Service.
type Config struct {
	Customers  repository.CustomerRepository
	Identities repository.SessionIdentityRepository
	Revoked    repository.RevokedTokenRepository
	Gateway    *tenancy.Gateway
	Issuer     *auth.TokenIssuer
	// Cipher decrypts credentials for the decrypt-* schemes; may be nil when
	// no customer uses them.
	Cipher *auth.Cipher
	Logger *zap.Logger
}

// NewService creates a login service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		customers:  cfg.Customers,
		identities: cfg.Identities,
		revoked:    cfg.Revoked,
		gateway:    cfg.Gateway,
		issuer:     cfg.Issuer,
		cipher:     cfg.Cipher,
		logger:     logger.Named("login"),
	}
}

// deny logs why authentication failed and returns the uniform denial.
func (s *Service) deny(identity, reason string) error {
	s.logger.Debug("authentication denied", zap.String("identity", identity), zap.String("reason", reason))
	return errs.ErrAuthenticationDenied
}

// Authenticate verifies password for identity ("local@tenant"). Every
// rejection returns errs.ErrAuthenticationDenied; other errors are
// infrastructure failures. On success the local session identity is upserted.
func (s *Service) Authenticate(ctx context.Context, identity, password string) (*models.SessionIdentity, error) {
	id := tenancy.Resolve(identity)
	if !id.HasTenant || id.Tenant == "" || id.Local == "" {
		return nil, s.deny(identity, "identity has no tenant")
	}

	customer, err := s.customers.GetByDomain(ctx, id.Tenant)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, s.deny(identity, "unknown customer")
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !customer.CanLogin() {
		return nil, s.deny(identity, "customer inactive or login disabled")
	}

	scheme, err := auth.ParseScheme(customer.CredentialScheme)
	if err != nil {
		s.logger.Error("customer has an invalid credential scheme",
			zap.Int64("customer_id", customer.ID), zap.Error(err))
		return nil, s.deny(identity, "invalid credential scheme")
	}
	prepared, err := scheme.Prepare(password, s.cipher)
	if err != nil {
		return nil, s.deny(identity, "credential could not be prepared: "+err.Error())
	}

	acc, err := s.gateway.ForTenant(ctx, strconv.FormatInt(customer.ID, 10))
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	defer acc.Release()
	users, err := acc.Users().FindByUserName(ctx, id.Local)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if len(users) != 1 {
		return nil, s.deny(identity, fmt.Sprintf("%d users match", len(users)))
	}
	user := users[0]

	if len(user.HashedKey) == 0 || subtle.ConstantTimeCompare(prepared, user.HashedKey) != 1 {
		return nil, s.deny(identity, "credential mismatch")
	}
	if user.Email == nil || strings.TrimSpace(*user.Email) == "" {
		return nil, s.deny(identity, "user has no email address")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	session, err := s.identities.Upsert(ctx, &models.SessionIdentity{
		Username:     id.String(),
		Email:        NormalizeEmail(*user.Email),
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		PasswordHash: string(hash),
		LastLoginAt:  &now,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	s.logger.Info("user authenticated",
		zap.String("identity", session.Username),
		zap.Int64("customer_id", customer.ID))
	return session, nil
}

// Login authenticates and issues a session token.
func (s *Service) Login(ctx context.Context, identity, password string) (string, *auth.Claims, error) {
	session, err := s.Authenticate(ctx, identity, password)
	if err != nil {
		return "", nil, err
	}
	return s.issuer.Issue(session.Username)
}

// ValidateToken verifies a presented token and returns its principal.
// Expired, revoked or orphaned tokens are denied.
func (s *Service) ValidateToken(ctx context.Context, token string, method auth.Method) (auth.AuthenticatedPrincipal, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return auth.AuthenticatedPrincipal{}, s.deny("", err.Error())
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return auth.AuthenticatedPrincipal{}, fmt.Errorf("validate token: %w", err)
	}
	if revoked {
		return auth.AuthenticatedPrincipal{}, s.deny(claims.Subject, "token revoked")
	}

	session, err := s.identities.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return auth.AuthenticatedPrincipal{}, s.deny(claims.Subject, "no session identity")
		}
		return auth.AuthenticatedPrincipal{}, fmt.Errorf("validate token: %w", err)
	}
	if !session.Active() {
		return auth.AuthenticatedPrincipal{}, s.deny(claims.Subject, "session identity disabled")
	}

	return auth.AuthenticatedPrincipal{
		Username:  session.Username,
		Identity:  tenancy.Resolve(session.Username),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		Method:    method,
		Operator:  session.Operator,
	}, nil
}

// Logout revokes the principal's token. Basic-auth principals have nothing
// to revoke.
func (s *Service) Logout(ctx context.Context, principal auth.AuthenticatedPrincipal) error {
	if principal.TokenID == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, principal.TokenID, principal.Username, principal.ExpiresAt)
}

// PurgeRevoked drops revocations for tokens that have expired anyway.
func (s *Service) PurgeRevoked(ctx context.Context) (int64, error) {
	return s.revoked.DeleteExpired(ctx, time.Now())
}

// NormalizeEmail lower-cases the domain part of an address.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return email
	}
	return email[:i] + "@" + strings.ToLower(email[i+1:])
}
