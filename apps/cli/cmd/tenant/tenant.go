package tenantcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/daftarhq/daftar-saas/platform/go/persistence"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// Command groups tenant directory helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant directory utilities (list/get)",
	}

	cmd.AddCommand(listCommand())
	cmd.AddCommand(getCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "list",
		Short: "List every tenant in the platform directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, dir, err := openDirectory(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			tenants, err := dir.List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-24s  %-10s  %s\n", "ID", "SUBDOMAIN", "STATUS", "STORE")
			for _, t := range tenants {
				fmt.Fprintf(out, "%-36s  %-24s  %-10s  %s\n", t.ID, t.Subdomain, t.Status, t.StoreName)
			}
			return nil
		},
	}

	addDatabaseFlag(c, &databaseURL)
	return c
}

func getCommand() *cobra.Command {
	var (
		databaseURL string
		id          string
		subdomain   string
	)

	c := &cobra.Command{
		Use:   "get",
		Short: "Show one tenant by id or subdomain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, dir, err := openDirectory(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			var t tenant.Tenant
			switch {
			case id != "":
				tenantID, parseErr := uuid.Parse(id)
				if parseErr != nil {
					return fmt.Errorf("invalid tenant id %q: %w", id, parseErr)
				}
				t, err = dir.FindByID(ctx, tenantID)
			case subdomain != "":
				t, err = dir.FindBySubdomain(ctx, subdomain)
			default:
				return fmt.Errorf("one of --id or --subdomain is required")
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}

	addDatabaseFlag(c, &databaseURL)
	c.Flags().StringVar(&id, "id", "", "Tenant id (uuid)")
	c.Flags().StringVar(&subdomain, "subdomain", "", "Tenant subdomain")
	return c
}

func addDatabaseFlag(c *cobra.Command, dest *string) {
	c.Flags().StringVar(dest, "database-url", os.Getenv("DATABASE_URL"), "Platform PostgreSQL connection string (defaults to DATABASE_URL)")
}

func openDirectory(ctx context.Context, databaseURL string) (*pgxpool.Pool, *persistence.TenantDirectory, error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("--database-url (or DATABASE_URL) is required")
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	dir, err := persistence.NewTenantDirectory(pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init tenant directory: %w", err)
	}
	return pool, dir, nil
}
