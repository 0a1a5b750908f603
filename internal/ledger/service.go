package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccountsByCodes(ctx context.Context, codes []string) (map[string]Account, error)
	GetEntry(ctx context.Context, entryID int64) (JournalEntry, error)
	DeriveAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	CheckBalances(ctx context.Context) ([]BalanceDrift, error)
}

// Service posts, voids and balances double-entry journal entries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func validatePosting(input PostingInput) error {
	if len(input.Lines) == 0 {
		return ErrNoLines
	}
	for _, line := range input.Lines {
		if !line.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if line.Side != SideDebit && line.Side != SideCredit {
			return fmt.Errorf("ledger: invalid line side %q", line.Side)
		}
	}
	debit, credit := sumSides(input.Lines)
	if !balanced(debit, credit) {
		return ErrUnbalancedEntry
	}
	return nil
}

// Post validates and durably stores a balanced entry, applying signed balance
// deltas to every referenced account in the same transaction.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := validatePosting(input); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensurePeriodOpen(ctx, tx, input.Date); err != nil {
			return err
		}
		now := s.now().UTC()
		debit, credit := sumSides(input.Lines)
		entry = JournalEntry{
			Number:      NewEntryNumber(now),
			Date:        input.Date,
			Status:      EntryStatusPosted,
			Source:      input.Source,
			Memo:        input.Memo,
			TotalDebit:  debit,
			TotalCredit: credit,
			PostedAt:    &now,
			CreatedBy:   input.CreatedBy,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		entry.Lines = toLines(id, input.Lines)
		if err := tx.InsertLines(ctx, id, entry.Lines); err != nil {
			return err
		}
		return applyDeltas(ctx, tx, entry.Lines, false)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "ledger.post", entry.ID, map[string]any{
		"number":      entry.Number,
		"source_type": string(entry.Source.Type),
		"source_id":   entry.Source.ID.String(),
	})
	return entry, nil
}

// SaveDraft stores an entry without touching account balances. Drafts may be
// unbalanced while being prepared; balance is enforced when posting.
func (s *Service) SaveDraft(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if len(input.Lines) == 0 {
		return JournalEntry{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if !line.Amount.IsPositive() {
			return JournalEntry{}, ErrInvalidAmount
		}
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		debit, credit := sumSides(input.Lines)
		entry = JournalEntry{
			Number:      NewEntryNumber(s.now().UTC()),
			Date:        input.Date,
			Status:      EntryStatusDraft,
			Source:      input.Source,
			Memo:        input.Memo,
			TotalDebit:  debit,
			TotalCredit: credit,
			CreatedBy:   input.CreatedBy,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		entry.Lines = toLines(id, input.Lines)
		return tx.InsertLines(ctx, id, entry.Lines)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// PostDraft transitions a draft to posted, re-validating balance and applying
// account deltas.
func (s *Service) PostDraft(ctx context.Context, entryID int64, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return ErrNotDraft
		}
		if err := s.ensurePeriodOpen(ctx, tx, current.Date); err != nil {
			return err
		}
		debit, credit := sumLineSides(current.Lines)
		if !balanced(debit, credit) {
			return ErrUnbalancedEntry
		}
		now := s.now().UTC()
		if err := tx.MarkEntryPosted(ctx, current.ID, now); err != nil {
			return err
		}
		if err := applyDeltas(ctx, tx, current.Lines, false); err != nil {
			return err
		}
		current.Status = EntryStatusPosted
		current.PostedAt = &now
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, actorID, "ledger.post_draft", entry.ID, map[string]any{"number": entry.Number})
	return entry, nil
}

// DeleteDraft removes a never-posted draft entirely.
func (s *Service) DeleteDraft(ctx context.Context, entryID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return ErrNotDraft
		}
		return tx.DeleteEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ledger.delete_draft", entryID, nil)
	return nil
}

// Void reverses every balance effect of a posted entry, marks it void and
// walks the reversal cascade over downstream records, all in one transaction.
func (s *Service) Void(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusPosted {
			return ErrNotPosted
		}
		if err := s.ensurePeriodOpen(ctx, tx, current.Date); err != nil {
			return err
		}
		// Re-derive totals from stored lines. A mismatch means the rows
		// were tampered with or corrupted; the void must abort.
		debit, credit := sumLineSides(current.Lines)
		if !balanced(debit, credit) {
			return ErrCorruptEntry
		}
		if err := applyDeltas(ctx, tx, current.Lines, true); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.MarkEntryVoided(ctx, current.ID, input.Reason, now); err != nil {
			return err
		}
		current.Status = EntryStatusVoid
		current.VoidReason = input.Reason
		current.VoidedAt = &now
		entry = current
		return unwindDependents(ctx, tx, current)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger.void", entry.ID, map[string]any{
		"number": entry.Number,
		"reason": input.Reason,
	})
	return entry, nil
}

// RecomputeBalance re-derives one account's balance from posted lines.
func (s *Service) RecomputeBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	return s.repo.DeriveAccountBalance(ctx, accountID)
}

// CheckConsistency reports accounts whose stored balance drifted from the
// sum of their posted lines.
func (s *Service) CheckConsistency(ctx context.Context) ([]BalanceDrift, error) {
	return s.repo.CheckBalances(ctx)
}

// ensurePeriodOpen rejects postings and voids into locked or closed periods.
// A date not covered by any period row is allowed: periods are optional
// until accounting is fully configured.
func (s *Service) ensurePeriodOpen(ctx context.Context, tx TxRepository, date time.Time) error {
	period, found, err := tx.GetPeriodByDate(ctx, date)
	if err != nil {
		return err
	}
	if found && period.Status != PeriodStatusOpen {
		return ErrPeriodLocked
	}
	return nil
}

// applyDeltas mutates account running balances for the given lines. With
// reverse set, every line's effect is inverted (void path). Accounts are
// locked in id order to keep concurrent postings deadlock-free.
func applyDeltas(ctx context.Context, tx TxRepository, lines []JournalLine, reverse bool) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	accounts, err := tx.GetAccountsForUpdate(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		account := accounts[line.AccountID]
		delta := signedDelta(account.NormalBalance, line.Side, line.Amount)
		if reverse {
			delta = delta.Neg()
		}
		if err := tx.AddAccountBalance(ctx, line.AccountID, delta); err != nil {
			return err
		}
	}
	return nil
}

func toLines(entryID int64, inputs []LineInput) []JournalLine {
	lines := make([]JournalLine, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, JournalLine{
			EntryID:     entryID,
			AccountID:   in.AccountID,
			Amount:      in.Amount,
			Side:        in.Side,
			Description: in.Description,
		})
	}
	return lines
}

func sumLineSides(lines []JournalLine) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		switch line.Side {
		case SideDebit:
			debit = debit.Add(line.Amount)
		case SideCredit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}
