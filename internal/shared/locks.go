package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// JobLockKey builds redis keys for worker critical sections. Job locks only
// serialise background workers; row-level state is always guarded by database
// locks, never by redis.
func JobLockKey(job string) string {
	return fmt.Sprintf("worker:job:%s:lock", job)
}

// JobLocker hands out distributed locks so a cron task runs on a single
// worker instance at a time.
type JobLocker struct {
	client *redislock.Client
}

// NewJobLocker wraps a redis client for job locking.
func NewJobLocker(rdb *redis.Client) *JobLocker {
	return &JobLocker{client: redislock.New(rdb)}
}

// Acquire obtains the lock for job or returns redislock.ErrNotObtained.
func (l *JobLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (*redislock.Lock, error) {
	if l == nil || l.client == nil {
		return nil, nil
	}
	return l.client.Obtain(ctx, JobLockKey(job), ttl, nil)
}
