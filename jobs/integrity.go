package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// layerTolerance absorbs rounding residue between layer totals and level
// quantities before a drift is worth reporting.
var layerTolerance = decimal.NewFromFloat(0.0001)

// BalanceChecker reports accounts whose stored balance drifted from their
// posted lines.
type BalanceChecker interface {
	CheckConsistency(ctx context.Context) ([]ledger.BalanceDrift, error)
}

// LayerReconciler reports items whose open cost layers disagree with the
// stock level on hand.
type LayerReconciler interface {
	ReconcileLayers(ctx context.Context, tolerance decimal.Decimal) ([]inventory.LayerDrift, error)
}

// KeyJanitor trims idempotency keys that aged past the retention window.
// A nil janitor skips the sweep.
type KeyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIntegrityCheckHandler returns the handler for TaskIntegrityCheck. The
// consistency checks are read-only; drift is logged for an operator, never
// auto-repaired. The key sweep is the one write, it only touches expired
// idempotency rows.
func NewIntegrityCheckHandler(balances BalanceChecker, layers LayerReconciler, janitor KeyJanitor, retention time.Duration, locker *shared.JobLocker, ttl time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		lock, err := locker.Acquire(ctx, "integrity_check", ttl)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil
		}
		if err != nil {
			return err
		}
		if lock != nil {
			defer func() { _ = lock.Release(ctx) }()
		}

		drifts, err := balances.CheckConsistency(ctx)
		if err != nil {
			return err
		}
		for _, drift := range drifts {
			logger.Warn("account balance drift",
				slog.Int64("account_id", drift.AccountID),
				slog.String("code", drift.Code),
				slog.String("stored", drift.Stored.String()),
				slog.String("derived", drift.Derived.String()))
		}

		layerDrifts, err := layers.ReconcileLayers(ctx, layerTolerance)
		if err != nil {
			return err
		}
		for _, drift := range layerDrifts {
			logger.Warn("cost layer drift",
				slog.Int64("product_id", drift.Key.ProductID),
				slog.String("level_quantity", drift.LevelQuantity.String()),
				slog.String("layer_quantity", drift.LayerQuantity.String()))
		}

		if len(drifts) == 0 && len(layerDrifts) == 0 {
			logger.Info("integrity check clean")
		}

		if janitor != nil {
			removed, err := janitor.Cleanup(ctx, retention)
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info("expired idempotency keys removed", slog.Int64("count", removed))
			}
		}
		return nil
	}
}
