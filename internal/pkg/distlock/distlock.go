// Package distlock provides cross-process mutual exclusion for campaign
// activation. Redis SET NX with a TTL is the primary backend; PostgreSQL
// advisory locks serve as a fallback when no Redis client is configured.
package distlock

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a distributed lock guarding a single named resource.
// A Lock instance belongs to one goroutine at a time.
type Lock interface {
	// Acquire tries to take the lock without blocking. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New creates a lock for the given key using the best available backend.
// Redis is preferred for cross-host exclusion; advisory locks cover the
// single-database deployment.
func New(client *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if client != nil {
		return newRedisLock(client, key, ttl)
	}
	return newAdvisoryLock(db, key)
}
