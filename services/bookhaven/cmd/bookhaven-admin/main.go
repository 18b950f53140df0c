// Command bookhaven-admin manages admin principals directly against the
// configured store, for bootstrapping and recovery when no admin can log in.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/config"
)

func main() {
	env := &cliEnv{
		open: openFromConfig,
		out:  os.Stdout,
		now:  time.Now,
	}
	if err := newRootCmd(env).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openFromConfig(ctx context.Context, path string) (backend, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return backend{}, err
	}
	st, closeStore, err := store.Open(ctx, store.OpenConfig{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return backend{}, fmt.Errorf("open store: %w", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		_ = closeStore(ctx)
		return backend{}, err
	}
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return backend{
		store:   st,
		revoker: store.NewRedisTokenRevoker(rdb, sessionTTL),
		close: func() {
			_ = rdb.Close()
			_ = closeStore(context.Background())
		},
	}, nil
}
