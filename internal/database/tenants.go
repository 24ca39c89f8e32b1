package database

import (
	"context"
	"database/sql"
	"fmt"

	"wagate/internal/models"
)

// CreateTenant inserts a new tenant and returns it with its assigned ID.
func (d *Database) CreateTenant(ctx context.Context, name, token string, status models.TenantStatus) (*models.Tenant, error) {
	result, err := d.db.ExecContext(ctx, InsertTenantQuery, name, token, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant id: %w", err)
	}

	return d.GetTenantByID(ctx, id)
}

func (d *Database) GetTenantByID(ctx context.Context, id int64) (*models.Tenant, error) {
	return d.scanTenant(d.db.QueryRowContext(ctx, SelectTenantByIDQuery, id))
}

// GetTenantByToken resolves a bearer token to its tenant. Returns (nil, nil)
// when no tenant carries the token.
func (d *Database) GetTenantByToken(ctx context.Context, token string) (*models.Tenant, error) {
	return d.scanTenant(d.db.QueryRowContext(ctx, SelectTenantByTokenQuery, token))
}

func (d *Database) scanTenant(row *sql.Row) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Token,
		&tenant.Status,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return tenant, nil
}

// EnsureSeedTenant creates the configured bootstrap tenant if its token is
// not already registered. Used on startup so a fresh deployment has one
// working API credential.
func (d *Database) EnsureSeedTenant(ctx context.Context, name, token string) (*models.Tenant, error) {
	existing, err := d.GetTenantByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return d.CreateTenant(ctx, name, token, models.TenantStatusActive)
}
