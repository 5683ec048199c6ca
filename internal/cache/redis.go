package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps entries as hashes with an absolute EXPIREAT.
type Redis struct {
	rdb redis.UniversalClient
}

// NewRedis wraps an existing client. The client is shared and safe for
// concurrent use.
func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

// Dial connects to the server at redisURL and checks that it answers.
func Dial(ctx context.Context, redisURL string, timeout time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrBackend, opts.Addr, err)
	}
	return NewRedis(rdb), nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Get returns the entry for key. Backend errors count as a miss; the caller
// re-resolves and rewrites the entry.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		slog.Warn("cache lookup failed, treating as miss", "key", key, "err", err)
		return Entry{}, false
	}
	return entryFromFields(fields)
}

// Expiry returns the absolute expiry of key as a UNIX timestamp.
func (r *Redis) Expiry(ctx context.Context, key string) (int64, error) {
	d, err := r.rdb.ExpireTime(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: expiretime %s: %v", ErrBackend, key, err)
	}
	// -2 means the key no longer exists; -1 means it has no expiry.
	if d == -2 {
		return 0, fmt.Errorf("%w: %s", ErrGone, key)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: expiretime %s returned %d", ErrBackend, key, int64(d))
	}
	return int64(d / time.Second), nil
}

// Set replaces the record for key and expires it with the entry's URLs. The
// expiry is computed before anything is written, so an entry with unusable
// URLs leaves the store untouched.
func (r *Redis) Set(ctx context.Context, key string, e Entry) (int64, error) {
	expiry, err := e.Expiry()
	if err != nil {
		return 0, err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, e.fields())
		pipe.ExpireAt(ctx, key, time.Unix(expiry, 0))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrBackend, key, err)
	}
	return expiry, nil
}
