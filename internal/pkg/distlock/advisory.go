package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// advisoryLock maps a string key onto a pg_try_advisory_lock id. Advisory
// locks are session-scoped, so Acquire pins a dedicated connection and holds
// it until Release; unlocking on any other pooled connection would be a
// silent no-op and the lock would outlive its holder.
type advisoryLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

func newAdvisoryLock(db *sql.DB, key string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &advisoryLock{db: db, id: int64(h.Sum64())}
}

func (l *advisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *advisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	// Closing the session drops the lock even if the unlock errored.
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}
