package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

// TxRepository exposes the transactional primitives the costing engine works
// against. Orchestrators in other packages bind it to their own transaction
// with BindTx so stock mutations commit atomically with their phase-one
// writes.
type TxRepository interface {
	GetLevelForUpdate(ctx context.Context, key ItemKey) (StockLevel, error)
	UpsertLevel(ctx context.Context, level StockLevel) (StockLevel, error)
	InsertMovement(ctx context.Context, movement StockMovement) (int64, error)

	InsertCostLayer(ctx context.Context, layer CostLayer) (int64, error)
	ListOpenLayersForUpdate(ctx context.Context, key ItemKey) ([]CostLayer, error)
	GetLayerForUpdate(ctx context.Context, layerID int64) (CostLayer, error)
	SetLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error
	RehomeLayers(ctx context.Context, productID int64, variantID *int64, fromLocation, toLocation int64) error

	// Cost basis for the displayed cost price: total on hand across
	// locations plus the current cost price.
	GetCostBasis(ctx context.Context, productID int64, variantID *int64) (decimal.Decimal, decimal.Decimal, error)
	SetCostPrice(ctx context.Context, productID int64, variantID *int64, cost decimal.Decimal) error
	SyncVariantStock(ctx context.Context, variantID int64) error
	GetCostingMethod(ctx context.Context, productID int64) (CostingMethod, error)

	Outbox() outbox.Queue
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// BindTx wraps an open transaction in the engine's repository contract.
func BindTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) Outbox() outbox.Queue {
	return outbox.BindTx(r.tx)
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, BindTx(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
