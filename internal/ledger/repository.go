package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DueCollectionRef is the slice of a due collection row the reversal cascade
// needs: enough to restore the customer balance and flip the status.
type DueCollectionRef struct {
	ID         uuid.UUID
	CustomerID int64
	Amount     decimal.Decimal
}

// TxRepository exposes transactional operations used by the engine.
type TxRepository interface {
	GetAccountsForUpdate(ctx context.Context, ids []int64) (map[int64]Account, error)
	AddAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error

	InsertEntry(ctx context.Context, entry JournalEntry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	MarkEntryPosted(ctx context.Context, entryID int64, postedAt time.Time) error
	MarkEntryVoided(ctx context.Context, entryID int64, reason string, voidedAt time.Time) error
	DeleteEntry(ctx context.Context, entryID int64) error

	GetPeriodByDate(ctx context.Context, date time.Time) (Period, bool, error)

	// Reversal cascade lookups. These read downstream records by the
	// foreign keys stored on them, so a void works from durable state
	// alone, long after the originating transaction.
	ListDueCollectionsByEntry(ctx context.Context, entryID int64) ([]DueCollectionRef, error)
	MarkDueCollectionVoided(ctx context.Context, id uuid.UUID) error
	AddCustomerDueBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error
	GetSaleCustomer(ctx context.Context, saleID uuid.UUID) (int64, bool, error)
	SumOnAccountPayments(ctx context.Context, saleID uuid.UUID) (decimal.Decimal, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
