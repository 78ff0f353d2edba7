package login

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy/tenancytest"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type fixture struct {
	env    *tenancytest.Env
	svc    *Service
	cipher *auth.Cipher
}

func setup(t *testing.T) fixture {
	t.Helper()
	env := tenancytest.New(t)

	issuer, err := auth.NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	cipher, err := auth.NewCipher([]byte("0123456789abcdef0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)

	svc := NewService(Config{
		Customers:  env.Customers,
		Identities: repository.NewBunSessionIdentityRepository(env.Controller),
		Revoked:    repository.NewBunRevokedTokenRepository(env.Controller),
		Gateway:    env.Gateway,
		Issuer:     issuer,
		Cipher:     cipher,
	})
	return fixture{env: env, svc: svc, cipher: cipher}
}

func sha(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func addUser(t *testing.T, acc *tenancy.Accessor, name string, key []byte, email string) *models.User {
	t.Helper()
	u := &models.User{UserName: name, FirstName: "John", LastName: "Doe", Status: models.UserStatusActive, HashedKey: key}
	if email != "" {
		u.Email = &email
	}
	require.NoError(t, acc.Users().Create(context.Background(), u))
	return u
}

func TestAuthenticate_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, acc := f.env.AddTenant(t, "acme", "sha256")
	addUser(t, acc, "jdoe", sha("s3cret"), "John.Doe@Example.COM")

	session, err := f.svc.Authenticate(ctx, "jdoe@acme", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@acme", session.Username)
	assert.Equal(t, "John.Doe@example.com", session.Email)
	assert.Equal(t, "John", session.FirstName)
	require.NotNil(t, session.LastLoginAt)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(session.PasswordHash), []byte("s3cret")))

	again, err := f.svc.Authenticate(ctx, "jdoe@acme", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID, "repeated logins refresh the same identity")
}

func TestAuthenticate_UniformDenial(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, acme := f.env.AddTenant(t, "acme", "sha256")
	addUser(t, acme, "jdoe", sha("s3cret"), "jdoe@example.com")
	addUser(t, acme, "twin", sha("s3cret"), "twin1@example.com")
	addUser(t, acme, "twin", sha("s3cret"), "twin2@example.com")
	addUser(t, acme, "noemail", sha("s3cret"), "")

	dormant, dormantAcc := f.env.AddTenant(t, "dormant", "sha256")
	addUser(t, dormantAcc, "jdoe", sha("s3cret"), "jdoe@example.com")
	require.NoError(t, f.env.Customers.SetStatus(ctx, dormant.ID, false, true))

	locked, lockedAcc := f.env.AddTenant(t, "locked", "sha256")
	addUser(t, lockedAcc, "jdoe", sha("s3cret"), "jdoe@example.com")
	require.NoError(t, f.env.Customers.SetStatus(ctx, locked.ID, true, false))

	_, legacy := f.env.AddTenant(t, "legacy", "decrypt-sha256")
	addUser(t, legacy, "jdoe", sha("s3cret"), "jdoe@example.com")

	tests := []struct {
		name     string
		identity string
		password string
	}{
		{"no tenant", "jdoe", "s3cret"},
		{"empty tenant", "jdoe@", "s3cret"},
		{"unknown tenant", "jdoe@nowhere", "s3cret"},
		{"inactive tenant", "jdoe@dormant", "s3cret"},
		{"login disabled", "jdoe@locked", "s3cret"},
		{"wrong password", "jdoe@acme", "wrong"},
		{"unknown user", "ghost@acme", "s3cret"},
		{"duplicate users", "twin@acme", "s3cret"},
		{"missing email", "noemail@acme", "s3cret"},
		{"malformed credential", "jdoe@legacy", "not base64!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := f.svc.Authenticate(ctx, tt.identity, tt.password)
			assert.Nil(t, session)
			assert.Equal(t, errs.ErrAuthenticationDenied, err)
		})
	}
}

func TestAuthenticate_Schemes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	keyBytes := []byte{0x01, 0xfe, 0x42, 0x99}

	tests := []struct {
		domain string
		scheme auth.Scheme
		stored []byte
		raw    string
	}{
		{"plainco", auth.SchemePlain, []byte("pw"), "pw"},
		{"shaco", auth.SchemeSHA256, sha("pw"), "pw"},
		{"dshaco", auth.SchemeDecryptSHA256, sha("pw"), f.cipher.Encrypt("pw")},
		{"db64co", auth.SchemeDecryptBase64, keyBytes, f.cipher.Encrypt(base64.StdEncoding.EncodeToString(keyBytes))},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			_, acc := f.env.AddTenant(t, tt.domain, string(tt.scheme))
			addUser(t, acc, "jdoe", tt.stored, "jdoe@example.com")

			session, err := f.svc.Authenticate(ctx, "jdoe@"+tt.domain, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "jdoe@"+tt.domain, session.Username)

			_, err = f.svc.Authenticate(ctx, "jdoe@"+tt.domain, tt.raw+"x")
			assert.ErrorIs(t, err, errs.ErrAuthenticationDenied)
		})
	}
}

func TestTokens_LoginValidateLogout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, acc := f.env.AddTenant(t, "acme", "sha256")
	addUser(t, acc, "jdoe", sha("s3cret"), "jdoe@example.com")

	token, claims, err := f.svc.Login(ctx, "jdoe@acme", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@acme", claims.Subject)

	principal, err := f.svc.ValidateToken(ctx, token, auth.MethodBearer)
	require.NoError(t, err)
	assert.Equal(t, "jdoe@acme", principal.Username)
	assert.Equal(t, "acme", principal.Identity.Tenant)
	assert.Equal(t, "jdoe", principal.Identity.Local)
	assert.Equal(t, claims.ID, principal.TokenID)
	assert.Equal(t, auth.MethodBearer, principal.Method)
	assert.False(t, principal.Operator)

	require.NoError(t, f.svc.Logout(ctx, principal))
	_, err = f.svc.ValidateToken(ctx, token, auth.MethodBearer)
	assert.ErrorIs(t, err, errs.ErrAuthenticationDenied)

	_, err = f.svc.ValidateToken(ctx, "garbage", auth.MethodQuery)
	assert.ErrorIs(t, err, errs.ErrAuthenticationDenied)

	_, _, err = f.svc.Login(ctx, "jdoe@acme", "wrong")
	assert.ErrorIs(t, err, errs.ErrAuthenticationDenied)
}

func TestTokens_DisabledIdentityRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, acc := f.env.AddTenant(t, "acme", "sha256")
	addUser(t, acc, "jdoe", sha("s3cret"), "jdoe@example.com")

	token, _, err := f.svc.Login(ctx, "jdoe@acme", "s3cret")
	require.NoError(t, err)

	_, err = f.env.Controller.NewUpdate().
		Model((*models.SessionIdentity)(nil)).
		Set("disabled_at = ?", time.Now().UTC()).
		Where("username = ?", "jdoe@acme").
		Exec(ctx)
	require.NoError(t, err)

	_, err = f.svc.ValidateToken(ctx, token, auth.MethodBearer)
	assert.ErrorIs(t, err, errs.ErrAuthenticationDenied)
}

func TestTokens_OperatorFlagFollowsIdentity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, acc := f.env.AddTenant(t, "acme", "sha256")
	addUser(t, acc, "ops", sha("s3cret"), "ops@example.com")

	token, _, err := f.svc.Login(ctx, "ops@acme", "s3cret")
	require.NoError(t, err)

	identities := repository.NewBunSessionIdentityRepository(f.env.Controller)
	require.NoError(t, identities.SetOperator(ctx, "ops@acme", true))

	principal, err := f.svc.ValidateToken(ctx, token, auth.MethodBearer)
	require.NoError(t, err)
	assert.True(t, principal.Operator)

	// Logging in again keeps the grant.
	_, err = f.svc.Authenticate(ctx, "ops@acme", "s3cret")
	require.NoError(t, err)
	principal, err = f.svc.ValidateToken(ctx, token, auth.MethodBearer)
	require.NoError(t, err)
	assert.True(t, principal.Operator)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "John.Doe@example.com", NormalizeEmail(" John.Doe@EXAMPLE.com "))
	assert.Equal(t, "a@b@example.org", NormalizeEmail("a@b@Example.ORG"))
	assert.Equal(t, "nodomain", NormalizeEmail("nodomain"))
}
