package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, code, name, type, normal_balance, current_balance, parent_id, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.CurrentBalance, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

const entryColumns = `id, entry_number, date, status, source_type, source_id, memo, total_debit, total_credit, posted_at, voided_at, void_reason, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.Status, &e.Source.Type, &e.Source.ID, &e.Memo, &e.TotalDebit, &e.TotalCredit, &e.PostedAt, &e.VoidedAt, &e.VoidReason, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetAccountByCode looks up a single chart-of-accounts node by its stable
// code. Absence maps to ErrAccountNotFound.
func (r *Repository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1 AND is_active`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return account, nil
}

// GetAccountsByCodes resolves several codes at once. Codes missing from the
// chart are simply absent from the result map; templates treat that as
// "accounting not configured".
func (r *Repository) GetAccountsByCodes(ctx context.Context, codes []string) (map[string]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = ANY($1) AND is_active`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[string]Account, len(codes))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[account.Code] = account
	}
	return accounts, rows.Err()
}

// ListAccounts returns the active chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetEntry loads an entry with its lines.
func (r *Repository) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	entry.Lines, err = queryLines(ctx, r.pool, entryID)
	return entry, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, amount, side, description FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Amount, &line.Side, &line.Description); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// DeriveAccountBalance recomputes an account's balance from currently-posted
// lines, ignoring the stored running balance.
func (r *Repository) DeriveAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var derived decimal.Decimal
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(CASE WHEN l.side = a.normal_balance THEN l.amount ELSE -l.amount END), 0)
FROM journal_lines l
JOIN accounts a ON a.id = l.account_id
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = $1 AND e.status = 'POSTED'`, accountID).Scan(&derived)
	return derived, err
}

// CheckBalances compares every account's stored balance against the derived
// sum of posted lines and reports the accounts that drifted.
func (r *Repository) CheckBalances(ctx context.Context) ([]BalanceDrift, error) {
	rows, err := r.pool.Query(ctx, `
SELECT a.id, a.code, a.current_balance,
       COALESCE(SUM(CASE WHEN l.side = a.normal_balance THEN l.amount ELSE -l.amount END), 0) AS derived
FROM accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.status = 'POSTED'
WHERE a.is_active
GROUP BY a.id, a.code, a.current_balance
HAVING ABS(a.current_balance - COALESCE(SUM(CASE WHEN l.side = a.normal_balance THEN l.amount ELSE -l.amount END), 0)) > 0.001
ORDER BY a.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.Code, &d.Stored, &d.Derived); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// FindOpenPeriodByDate returns the open period covering the supplied date.
func (r *Repository) FindOpenPeriodByDate(ctx context.Context, date time.Time) (Period, error) {
	var p Period
	err := r.pool.QueryRow(ctx, `SELECT id, code, start_date, end_date, status, closed_at, created_at, updated_at
FROM accounting_periods WHERE status='OPEN' AND $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date).
		Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

// ErrNoOpenPeriod indicates no open period covers the requested date.
var ErrNoOpenPeriod = errors.New("ledger: no open period for date")

func (r *txRepository) GetAccountsForUpdate(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[int64]Account, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[account.ID] = account
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := accounts[id]; !ok {
			return nil, ErrAccountNotFound
		}
	}
	return accounts, nil
}

func (r *txRepository) AddAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET current_balance = current_balance + $2, updated_at = NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_number, date, status, source_type, source_id, memo, total_debit, total_credit, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.Number, entry.Date, entry.Status, entry.Source.Type, entry.Source.ID, entry.Memo, entry.TotalDebit, entry.TotalCredit, entry.PostedAt, entry.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, amount, side, description)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Amount, line.Side, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	entry.Lines, err = queryLines(ctx, r.tx, entryID)
	return entry, err
}

func (r *txRepository) MarkEntryPosted(ctx context.Context, entryID int64, postedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_at=$2, updated_at=NOW() WHERE id=$1`, entryID, postedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) MarkEntryVoided(ctx context.Context, entryID int64, reason string, voidedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='VOID', void_reason=$2, voided_at=$3, updated_at=NOW() WHERE id=$1`, entryID, reason, voidedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) GetPeriodByDate(ctx context.Context, date time.Time) (Period, bool, error) {
	var p Period
	err := r.tx.QueryRow(ctx, `SELECT id, code, start_date, end_date, status, closed_at, created_at, updated_at
FROM accounting_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date).
		Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, false, nil
		}
		return Period{}, false, err
	}
	return p, true, nil
}

func (r *txRepository) ListDueCollectionsByEntry(ctx context.Context, entryID int64) ([]DueCollectionRef, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, customer_id, amount FROM due_collections WHERE journal_entry_id=$1 AND status='ACTIVE' FOR UPDATE`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []DueCollectionRef
	for rows.Next() {
		var ref DueCollectionRef
		if err := rows.Scan(&ref.ID, &ref.CustomerID, &ref.Amount); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *txRepository) MarkDueCollectionVoided(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE due_collections SET status='VOIDED', updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *txRepository) AddCustomerDueBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE customers SET due_balance = due_balance + $2, updated_at = NOW() WHERE id=$1`, customerID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("ledger: customer not found")
	}
	return nil
}

func (r *txRepository) GetSaleCustomer(ctx context.Context, saleID uuid.UUID) (int64, bool, error) {
	var customerID *int64
	err := r.tx.QueryRow(ctx, `SELECT customer_id FROM sales WHERE id=$1`, saleID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if customerID == nil {
		return 0, false, nil
	}
	return *customerID, true, nil
}

func (r *txRepository) SumOnAccountPayments(ctx context.Context, saleID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM sale_payments WHERE sale_id=$1 AND method='ON_ACCOUNT'`, saleID).Scan(&total)
	return total, err
}
