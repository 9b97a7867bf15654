package sessionscmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/daftarhq/daftar-saas/platform/go/kv"
	"github.com/daftarhq/daftar-saas/platform/go/session"
)

// Command groups session administration helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session administration (list/revoke per user)",
	}

	cmd.AddCommand(listCommand())
	cmd.AddCommand(revokeCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
		userID        string
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List every live session for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, err := openStore(ctx, redisAddr, redisPassword, redisDB)
			if err != nil {
				return err
			}
			defer store.close()

			entries, err := store.sessions.ListForUser(ctx, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				device := ""
				if e.Session.Device != nil {
					device = e.Session.Device.Name
					if device == "" {
						device = e.Session.Device.UserAgent
					}
				}
				fmt.Fprintf(out, "%s  login=%s  last_activity=%s  device=%q\n",
					e.ID, e.Session.LoginTime.Format("2006-01-02T15:04:05Z07:00"),
					e.Session.LastActivity.Format("2006-01-02T15:04:05Z07:00"), device)
			}
			fmt.Fprintf(out, "%d session(s)\n", len(entries))
			return nil
		},
	}

	addRedisFlags(c, &redisAddr, &redisPassword, &redisDB)
	c.Flags().StringVar(&userID, "user", "", "User id whose sessions to list")
	_ = c.MarkFlagRequired("user")
	return c
}

func revokeCommand() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		redisDB       int
		userID        string
		keepID        string
	)

	c := &cobra.Command{
		Use:   "revoke",
		Short: "Destroy a user's sessions (all, or all but --keep)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			store, err := openStore(ctx, redisAddr, redisPassword, redisDB)
			if err != nil {
				return err
			}
			defer store.close()

			var destroyed int
			if keepID == "" {
				destroyed, err = store.sessions.DestroyAllForUser(ctx, userID)
			} else {
				destroyed, err = store.sessions.DestroyOthersForUser(ctx, userID, keepID)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %d session(s)\n", destroyed)
			return nil
		},
	}

	addRedisFlags(c, &redisAddr, &redisPassword, &redisDB)
	c.Flags().StringVar(&userID, "user", "", "User id whose sessions to revoke")
	c.Flags().StringVar(&keepID, "keep", "", "Session id to spare (force-logout other devices)")
	_ = c.MarkFlagRequired("user")
	return c
}

type adminStore struct {
	kv       kv.Store
	sessions *session.Store
}

func (s *adminStore) close() {
	_ = s.kv.Close()
}

func openStore(ctx context.Context, addr, password string, db int) (*adminStore, error) {
	store, err := kv.NewRedis(ctx, kv.Config{Addr: addr, Password: password, DB: db})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	sessions, err := session.NewStore(session.Config{KV: store})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &adminStore{kv: store, sessions: sessions}, nil
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
