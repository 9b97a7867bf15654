package ratelimitcmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/daftarhq/daftar-saas/platform/go/kv"
	"github.com/daftarhq/daftar-saas/platform/go/ratelimit"
)

// Command groups rate-limit administration helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Rate-limit administration (status/reset)",
	}

	cmd.AddCommand(statusCommand())
	cmd.AddCommand(resetCommand())
	return cmd
}

func statusCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
		key           string
		window        time.Duration
		maxRequests   int64
	)

	c := &cobra.Command{
		Use:   "status",
		Short: "Show a key's consumption in the current window without counting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, limiter, err := openLimiter(ctx, redisAddr, redisPassword, redisDB, window, maxRequests)
			if err != nil {
				return err
			}
			defer store.Close()

			res := limiter.Status(ctx, key)
			fmt.Fprintf(cmd.OutOrStdout(), "hits: %d\nremaining: %d\nwindow resets in: %dms\n",
				res.TotalHits, res.RemainingPoints, res.MsBeforeNext)
			return nil
		},
	}

	addLimiterFlags(c, &redisAddr, &redisPassword, &redisDB, &key, &window, &maxRequests)
	return c
}

func resetCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
		key           string
		window        time.Duration
		maxRequests   int64
	)

	c := &cobra.Command{
		Use:   "reset",
		Short: "Clear a key's counter for the current window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, limiter, err := openLimiter(ctx, redisAddr, redisPassword, redisDB, window, maxRequests)
			if err != nil {
				return err
			}
			defer store.Close()

			if !limiter.Reset(ctx, key) {
				return fmt.Errorf("reset failed for key %q", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %q\n", key)
			return nil
		},
	}

	addLimiterFlags(c, &redisAddr, &redisPassword, &redisDB, &key, &window, &maxRequests)
	return c
}

func openLimiter(ctx context.Context, addr, password string, db int, window time.Duration, maxRequests int64) (kv.Store, *ratelimit.Limiter, error) {
	store, err := kv.NewRedis(ctx, kv.Config{Addr: addr, Password: password, DB: db})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{KV: store, Window: window, MaxRequests: maxRequests})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, limiter, nil
}

func addLimiterFlags(c *cobra.Command, addr, password *string, db *int, key *string, window *time.Duration, maxRequests *int64) {
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
	c.Flags().StringVar(key, "key", "", "Rate-limit key (e.g. 'tenant:<id>:ip:1.2.3.4')")
	c.Flags().DurationVar(window, "window", time.Minute, "Window length used to address the counter")
	c.Flags().Int64Var(maxRequests, "max", 100, "Per-window budget used to compute remaining points")
	_ = c.MarkFlagRequired("key")
}
