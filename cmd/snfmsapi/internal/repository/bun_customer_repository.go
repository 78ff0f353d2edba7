package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/uptrace/bun"
)

// ========================================
// Customer Repository
// ========================================

// BunCustomerRepository implements CustomerRepository using Bun ORM
type BunCustomerRepository struct {
	db bun.IDB
}

// NewBunCustomerRepository creates a new Bun-based customer repository
func NewBunCustomerRepository(db bun.IDB) CustomerRepository {
	return &BunCustomerRepository{db: db}
}

// Create registers a new customer. Domain names are stored lower-cased.
func (r *BunCustomerRepository) Create(ctx context.Context, customer *models.Customer) error {
	customer.DomainName = strings.ToLower(strings.TrimSpace(customer.DomainName))
	if customer.DomainName == "" {
		return fmt.Errorf("domain name is required: %w", errs.ErrInvalidInput)
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NewInsert().
		Model(customer).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("customer %s: %w", customer.DomainName, errs.ErrAlreadyExists)
		}
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

// GetByID retrieves a customer by its integer key
func (r *BunCustomerRepository) GetByID(ctx context.Context, id int64) (*models.Customer, error) {
	customer := new(models.Customer)
	err := r.db.NewSelect().
		Model(customer).
		Where("customer_id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return customer, nil
}

// GetByDomain retrieves a customer by domain name, ignoring case
func (r *BunCustomerRepository) GetByDomain(ctx context.Context, domain string) (*models.Customer, error) {
	customer := new(models.Customer)
	err := r.db.NewSelect().
		Model(customer).
		Where("domain_name = ?", strings.ToLower(strings.TrimSpace(domain))).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "customer", domain)
	}
	return customer, nil
}

// List returns every registered customer
func (r *BunCustomerRepository) List(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.NewSelect().
		Model(&customers).
		Order("customer_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

// SetStatus toggles the process and login flags of a customer
func (r *BunCustomerRepository) SetStatus(ctx context.Context, id int64, processActive, loginEnabled bool) error {
	result, err := r.db.NewUpdate().
		Model((*models.Customer)(nil)).
		Set("process_active = ?", processActive).
		Set("login_enabled = ?", loginEnabled).
		Where("customer_id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update customer status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("customer %d: %w", id, errs.ErrNotFound)
	}
	return nil
}
