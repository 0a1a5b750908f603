package procurement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

// TxRepository is the transaction-scoped contract for receiving and paying
// purchase orders. Inventory and outbox access is bound to the same
// transaction.
type TxRepository interface {
	GetSupplier(ctx context.Context, supplierID int64) (Supplier, error)
	AddSupplierBalance(ctx context.Context, supplierID int64, delta decimal.Decimal) error

	GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (PurchaseOrder, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]POLine, error)
	AddLineReceivedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error
	UpdateOrder(ctx context.Context, order PurchaseOrder) error

	InsertPayment(ctx context.Context, payment PurchasePayment) error

	Inventory() inventory.TxRepository
	Outbox() outbox.Queue
}

// Repository persists procurement data in PostgreSQL.
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

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *txRepo) Inventory() inventory.TxRepository {
	return inventory.BindTx(r.tx)
}

func (r *txRepo) Outbox() outbox.Queue {
	return outbox.BindTx(r.tx)
}
