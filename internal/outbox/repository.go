package outbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue enqueues records. Implemented by both the pool-backed repository and
// the transaction binding, so orchestrators can enqueue inside their own
// phase-one transaction.
type Queue interface {
	Enqueue(ctx context.Context, record Record) (int64, error)
}

// Repository persists outbox rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, kind, source_type, source_id, payload, status, attempts, last_error, journal_entry_id, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Kind, &rec.SourceType, &rec.SourceID, &rec.Payload, &rec.Status, &rec.Attempts, &rec.LastError, &rec.JournalEntryID, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Enqueue inserts a pending record using the pool.
func (r *Repository) Enqueue(ctx context.Context, record Record) (int64, error) {
	return enqueue(ctx, r.pool, record)
}

// TxQueue binds enqueue operations to an external transaction so the outbox
// row commits or rolls back with the operational phase.
type TxQueue struct {
	tx pgx.Tx
}

// BindTx wraps an open transaction.
func BindTx(tx pgx.Tx) *TxQueue {
	return &TxQueue{tx: tx}
}

// Enqueue inserts a pending record inside the bound transaction.
func (q *TxQueue) Enqueue(ctx context.Context, record Record) (int64, error) {
	return enqueue(ctx, q.tx, record)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func enqueue(ctx context.Context, q rowQuerier, record Record) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO ledger_outbox (kind, source_type, source_id, payload, status)
VALUES ($1,$2,$3,$4,'PENDING') RETURNING id`, record.Kind, record.SourceType, record.SourceID, record.Payload).Scan(&id)
	return id, err
}

// Get loads one record.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM ledger_outbox WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListPending returns undelivered records oldest-first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM ledger_outbox WHERE status='PENDING' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkPosted records successful delivery and the journal entry it produced.
func (r *Repository) MarkPosted(ctx context.Context, id int64, entryID int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE ledger_outbox SET status='POSTED', journal_entry_id=$2, last_error='', attempts=attempts+1, updated_at=NOW() WHERE id=$1`, id, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkAttemptFailed bumps the attempt counter and stores the failure. Rows
// that exhaust maxAttempts flip to FAILED for manual review; the rest stay
// pending for the re-drive job.
func (r *Repository) MarkAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE ledger_outbox
SET attempts = attempts + 1,
    last_error = $2,
    status = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END,
    updated_at = NOW()
WHERE id=$1`, id, cause, maxAttempts)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
