package cachecmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/daftarhq/daftar-saas/platform/go/cache"
	"github.com/daftarhq/daftar-saas/platform/go/kv"
)

// Command groups cache administration helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache administration (stats/invalidate)",
	}

	cmd.AddCommand(statsCommand())
	cmd.AddCommand(invalidateCommand())
	return cmd
}

func statsCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
	)

	c := &cobra.Command{
		Use:   "stats",
		Short: "Show cache key count and memory usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, svc, err := openCache(ctx, redisAddr, redisPassword, redisDB)
			if err != nil {
				return err
			}
			defer store.Close()

			stats := svc.Stats(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "keys: %d\nmemory: %s\n", stats.TotalKeys, stats.MemoryUsage)
			return nil
		},
	}

	addRedisFlags(c, &redisAddr, &redisPassword, &redisDB)
	return c
}

func invalidateCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
		pattern       string
		namespace     string
	)

	c := &cobra.Command{
		Use:   "invalidate",
		Short: "Delete cache entries matching a glob pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, svc, err := openCache(ctx, redisAddr, redisPassword, redisDB)
			if err != nil {
				return err
			}
			defer store.Close()

			n := svc.InvalidatePattern(ctx, pattern, namespace)
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d entr(ies)\n", n)
			return nil
		},
	}

	addRedisFlags(c, &redisAddr, &redisPassword, &redisDB)
	c.Flags().StringVar(&pattern, "pattern", "", "Glob pattern of cache keys to delete (e.g. 'kpi:*')")
	c.Flags().StringVar(&namespace, "namespace", "", "Optional cache namespace")
	_ = c.MarkFlagRequired("pattern")
	return c
}

func openCache(ctx context.Context, addr, password string, db int) (kv.Store, *cache.Service, error) {
	store, err := kv.NewRedis(ctx, kv.Config{Addr: addr, Password: password, DB: db})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	svc, err := cache.New(cache.Config{KV: store})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, svc, nil
}

func addRedisFlags(c *cobra.Command, addr, password *string, db *int) {
	defaultDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			defaultDB = n
		}
	}
	defaultAddr := os.Getenv("REDIS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "localhost:6379"
	}

	c.Flags().StringVar(addr, "redis-addr", defaultAddr, "Redis address (defaults to REDIS_ADDR)")
	c.Flags().StringVar(password, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password (defaults to REDIS_PASSWORD)")
	c.Flags().IntVar(db, "redis-db", defaultDB, "Redis logical database (defaults to REDIS_DB)")
}
