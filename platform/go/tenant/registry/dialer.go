package registry

import (
	"context"
	"time"

	"github.com/daftarhq/daftar-saas/platform/go/persistence"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// PgxDialer establishes pgx pools against isolated tenant stores.
// *pgxpool.Pool satisfies tenant.Conn directly.
type PgxDialer struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

var _ Dialer = PgxDialer{}

func (d PgxDialer) Dial(ctx context.Context, connString string) (tenant.Conn, error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      connString,
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: d.MaxConnLifetime,
		MaxConnIdleTime: d.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
