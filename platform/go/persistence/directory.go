package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// TenantsTable is the fully-qualified platform tenant registry table.
const TenantsTable = "admin.tenants"

// tenantRow mirrors the columns of the tenants table.
type tenantRow struct {
	ID        uuid.UUID
	Name      string
	Subdomain string
	StoreName string
	Status    string
	CreatedAt time.Time
}

// TenantDirectory reads tenant metadata from the shared platform store.
// It is read-mostly; tenant creation and status transitions are driven by
// the onboarding/admin surface, not by this layer.
type TenantDirectory struct {
	pool *pgxpool.Pool
}

// NewTenantDirectory creates a directory; assumes migrations already
// created the table.
func NewTenantDirectory(pool *pgxpool.Pool) (*TenantDirectory, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantDirectory{pool: pool}, nil
}

const tenantColumns = "id, name, subdomain, store_name, status, created_at"

// FindByID returns the tenant with the given id, or tenant.ErrNotFound.
func (d *TenantDirectory) FindByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", tenantColumns, TenantsTable)
	return d.findOne(ctx, query, id)
}

// FindBySubdomain returns the tenant with the given subdomain, or
// tenant.ErrNotFound.
func (d *TenantDirectory) FindBySubdomain(ctx context.Context, subdomain string) (tenant.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE subdomain = $1", tenantColumns, TenantsTable)
	return d.findOne(ctx, query, subdomain)
}

func (d *TenantDirectory) findOne(ctx context.Context, query string, arg any) (tenant.Tenant, error) {
	var row tenantRow
	err := d.pool.QueryRow(ctx, query, arg).Scan(
		&row.ID, &row.Name, &row.Subdomain, &row.StoreName, &row.Status, &row.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("query tenant: %w", err)
	}

	return tenant.Tenant{
		ID:        row.ID,
		Name:      row.Name,
		Subdomain: row.Subdomain,
		StoreName: row.StoreName,
		Status:    tenant.ParseStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}, nil
}

// List returns every tenant ordered by subdomain.
func (d *TenantDirectory) List(ctx context.Context) ([]tenant.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY subdomain", tenantColumns, TenantsTable)
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		var row tenantRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Subdomain, &row.StoreName, &row.Status, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant.Tenant{
			ID:        row.ID,
			Name:      row.Name,
			Subdomain: row.Subdomain,
			StoreName: row.StoreName,
			Status:    tenant.ParseStatus(row.Status),
			CreatedAt: row.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// Ping probes the shared platform store.
func (d *TenantDirectory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}
