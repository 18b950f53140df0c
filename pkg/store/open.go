package store

import (
	"context"
	"fmt"
	"strings"
)

// OpenConfig selects and configures a Store backend.
type OpenConfig struct {
	Driver        string // memory, postgres, mongo
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
}

// Open returns the configured Store and a function releasing it.
func Open(ctx context.Context, cfg OpenConfig) (Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "postgres":
		s, err := NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "mongo":
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
