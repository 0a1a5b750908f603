package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// redriveBatch bounds how many pending records one cron firing processes.
const redriveBatch = 200

// Redriver re-attempts pending outbox records and reports how many posted.
type Redriver interface {
	Redrive(ctx context.Context, limit int) (int, error)
}

// NewOutboxRedriveHandler returns the handler for TaskOutboxRedrive. The
// distributed lock keeps a single worker instance draining the outbox per
// firing; delivery itself is idempotent either way, the lock just avoids
// wasted attempts.
func NewOutboxRedriveHandler(redriver Redriver, locker *shared.JobLocker, ttl time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		lock, err := locker.Acquire(ctx, "outbox_redrive", ttl)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil
		}
		if err != nil {
			return err
		}
		if lock != nil {
			defer func() { _ = lock.Release(ctx) }()
		}

		posted, err := redriver.Redrive(ctx, redriveBatch)
		if err != nil {
			return err
		}
		if posted > 0 {
			logger.Info("outbox redrive", slog.Int("posted", posted))
		}
		return nil
	}
}
