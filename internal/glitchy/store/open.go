package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Options selects and configures a Backend.
type Options struct {
	// Kind is KindSQLite (default) or KindRedis.
	Kind string
	// Path is the SQLite database file.
	Path string
	// RedisURL is a redis:// URL.
	RedisURL string
	// RedisPrefix namespaces the Redis keys.
	RedisPrefix string
}

// Open creates the Backend described by opts.  A Redis backend is pinged
// before it is returned.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("store: sqlite path is required")
		}
		return NewSQLite(opts.Path)

	case KindRedis:
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("store: parse redis url: %w", err)
		}
		var ro []RedisOption
		if opts.RedisPrefix != "" {
			ro = append(ro, WithPrefix(opts.RedisPrefix))
		}
		r := NewRedis(redis.NewClient(ropts), ro...)

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Ping(pctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("store: ping redis: %w", err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("store: unknown backend %q", opts.Kind)
}
