// Package errs holds the sentinel errors shared by repositories, services and
// the HTTP layer. Callers wrap them with fmt.Errorf("...: %w") and match with
// errors.Is.
package errs

import "errors"

var (
	// ErrAuthenticationDenied is the single outcome of every failed login,
	// whatever step rejected it.
	ErrAuthenticationDenied = errors.New("authentication denied")

	// ErrUnauthenticated is returned when a request carries no credentials.
	ErrUnauthenticated = errors.New("authentication credentials were not provided")

	// ErrNoTenant is returned when a tenant-scoped operation runs without a
	// resolved tenant context.
	ErrNoTenant = errors.New("no tenant in request context")

	// ErrTenantNotFound is returned when neither the id nor the domain name
	// matches a customer.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrForbidden is returned when the caller lacks the capability or role
	// required for an operation.
	ErrForbidden = errors.New("you do not have permission to perform this action")

	// ErrNotFound is returned when a record does not exist in the tenant store.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on unique-name conflicts.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUserRoleAlreadyAssigned is returned when a (user, role) pair is
	// assigned a second time.
	ErrUserRoleAlreadyAssigned = errors.New("role is already assigned to user")

	// ErrDuplicateUsers flags tenant data where several users share the
	// authenticated username.
	ErrDuplicateUsers = errors.New("duplicate users found for username")

	// ErrInvalidInput is returned for malformed request payloads.
	ErrInvalidInput = errors.New("invalid input")
)
