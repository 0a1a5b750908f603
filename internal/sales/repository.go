package sales

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

// TxRepository is the transaction-scoped persistence contract for sale
// orchestration. Inventory and outbox access is bound to the same
// transaction so stock decrements, balance mutations and the posting
// enqueue commit or roll back together.
type TxRepository interface {
	InsertSale(ctx context.Context, sale Sale) error
	InsertSaleLine(ctx context.Context, line SaleLine) (int64, error)
	InsertSalePayment(ctx context.Context, payment SalePayment) error
	GetSaleForUpdate(ctx context.Context, saleID uuid.UUID) (Sale, error)
	ListSaleLines(ctx context.Context, saleID uuid.UUID) ([]SaleLine, error)
	AddLineReturnedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error
	MarkSaleReturned(ctx context.Context, saleID uuid.UUID) error

	InsertReturn(ctx context.Context, ret Return) error
	InsertReturnLine(ctx context.Context, line ReturnLine) (int64, error)

	GetCustomerForUpdate(ctx context.Context, customerID int64) (Customer, error)
	UpdateCustomerBalances(ctx context.Context, customer Customer) error

	GetGiftCardForUpdate(ctx context.Context, code string) (GiftCard, error)
	AddGiftCardBalance(ctx context.Context, cardID int64, delta decimal.Decimal) error

	AddShiftTotals(ctx context.Context, shiftID int64, cash, total decimal.Decimal) error

	InsertDueCollection(ctx context.Context, collection DueCollection) error

	Inventory() inventory.TxRepository
	Outbox() outbox.Queue
}

// Repository persists sales data in PostgreSQL.
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
		return errors.New("sales repository not initialised")
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
