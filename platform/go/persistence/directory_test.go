package persistence

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	sqlassets "github.com/daftarhq/daftar-saas/database"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// testPool connects to the database named by TEST_DATABASE_URL and applies
// the directory DDL. Tests are skipped when no database is provided.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, sqlassets.TenantsSQL)
	require.NoError(t, err)

	return pool
}

func insertTenant(t *testing.T, pool *pgxpool.Pool, status string) tenant.Tenant {
	t.Helper()

	ctx := context.Background()
	id := uuid.New()
	subdomain := fmt.Sprintf("t-%s", id.String()[:8])
	storeName := tenant.BuildStoreName("test", tenant.ToSnake(subdomain))

	_, err := pool.Exec(ctx,
		"INSERT INTO admin.tenants (id, name, subdomain, store_name, status) VALUES ($1, $2, $3, $4, $5)",
		id, "Test Tenant", subdomain, storeName, status,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM admin.tenants WHERE id = $1", id)
	})

	return tenant.Tenant{ID: id, Name: "Test Tenant", Subdomain: subdomain, Status: tenant.ParseStatus(status)}
}

func TestDirectoryFindByID(t *testing.T) {
	pool := testPool(t)
	dir, err := NewTenantDirectory(pool)
	require.NoError(t, err)

	want := insertTenant(t, pool, "active")

	got, err := dir.FindByID(context.Background(), want.ID)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Subdomain, got.Subdomain)
	require.Equal(t, tenant.StatusActive, got.Status)
	require.False(t, got.CreatedAt.IsZero())
}

func TestDirectoryFindBySubdomain(t *testing.T) {
	pool := testPool(t)
	dir, err := NewTenantDirectory(pool)
	require.NoError(t, err)

	want := insertTenant(t, pool, "trial")

	got, err := dir.FindBySubdomain(context.Background(), want.Subdomain)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, tenant.StatusTrial, got.Status)
}

func TestDirectoryUnknownTenant(t *testing.T) {
	pool := testPool(t)
	dir, err := NewTenantDirectory(pool)
	require.NoError(t, err)

	_, err = dir.FindByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = dir.FindBySubdomain(context.Background(), "no-such-subdomain")
	require.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestDirectoryList(t *testing.T) {
	pool := testPool(t)
	dir, err := NewTenantDirectory(pool)
	require.NoError(t, err)

	a := insertTenant(t, pool, "active")
	b := insertTenant(t, pool, "suspended")

	tenants, err := dir.List(context.Background())
	require.NoError(t, err)

	byID := make(map[uuid.UUID]tenant.Tenant, len(tenants))
	for _, tn := range tenants {
		byID[tn.ID] = tn
	}
	require.Contains(t, byID, a.ID)
	require.Contains(t, byID, b.ID)
	require.Equal(t, tenant.StatusSuspended, byID[b.ID].Status)
}
