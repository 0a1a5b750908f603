package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeTxRepo struct {
	accounts     map[int64]Account
	entries      map[int64]*JournalEntry
	periods      []Period
	collections  map[int64][]DueCollectionRef
	voidedColl   map[uuid.UUID]bool
	dueBalance   map[int64]decimal.Decimal
	saleCustomer map[uuid.UUID]int64
	onAccount    map[uuid.UUID]decimal.Decimal
	nextID       int64
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{
		accounts:     map[int64]Account{},
		entries:      map[int64]*JournalEntry{},
		collections:  map[int64][]DueCollectionRef{},
		voidedColl:   map[uuid.UUID]bool{},
		dueBalance:   map[int64]decimal.Decimal{},
		saleCustomer: map[uuid.UUID]int64{},
		onAccount:    map[uuid.UUID]decimal.Decimal{},
	}
}

func (f *fakeTxRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeTxRepo) seedAccount(id int64, code string, kind AccountType, normal Side, balance decimal.Decimal) {
	f.accounts[id] = Account{ID: id, Code: code, Name: code, Type: kind, NormalBalance: normal, CurrentBalance: balance, IsActive: true}
}

func (f *fakeTxRepo) GetAccountsForUpdate(_ context.Context, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		account, ok := f.accounts[id]
		if !ok {
			return nil, ErrAccountNotFound
		}
		out[id] = account
	}
	return out, nil
}

func (f *fakeTxRepo) AddAccountBalance(_ context.Context, accountID int64, delta decimal.Decimal) error {
	account, ok := f.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.CurrentBalance = account.CurrentBalance.Add(delta)
	f.accounts[accountID] = account
	return nil
}

func (f *fakeTxRepo) InsertEntry(_ context.Context, entry JournalEntry) (int64, error) {
	entry.ID = f.id()
	f.entries[entry.ID] = &entry
	return entry.ID, nil
}

func (f *fakeTxRepo) InsertLines(_ context.Context, entryID int64, lines []JournalLine) error {
	entry := f.entries[entryID]
	entry.Lines = append([]JournalLine(nil), lines...)
	return nil
}

func (f *fakeTxRepo) GetEntryForUpdate(_ context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := f.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return *entry, nil
}

func (f *fakeTxRepo) MarkEntryPosted(_ context.Context, entryID int64, postedAt time.Time) error {
	entry := f.entries[entryID]
	entry.Status = EntryStatusPosted
	entry.PostedAt = &postedAt
	return nil
}

func (f *fakeTxRepo) MarkEntryVoided(_ context.Context, entryID int64, reason string, voidedAt time.Time) error {
	entry := f.entries[entryID]
	entry.Status = EntryStatusVoid
	entry.VoidReason = reason
	entry.VoidedAt = &voidedAt
	return nil
}

func (f *fakeTxRepo) DeleteEntry(_ context.Context, entryID int64) error {
	delete(f.entries, entryID)
	return nil
}

func (f *fakeTxRepo) GetPeriodByDate(_ context.Context, date time.Time) (Period, bool, error) {
	for _, period := range f.periods {
		if !date.Before(period.StartDate) && !date.After(period.EndDate) {
			return period, true, nil
		}
	}
	return Period{}, false, nil
}

func (f *fakeTxRepo) ListDueCollectionsByEntry(_ context.Context, entryID int64) ([]DueCollectionRef, error) {
	return f.collections[entryID], nil
}

func (f *fakeTxRepo) MarkDueCollectionVoided(_ context.Context, id uuid.UUID) error {
	f.voidedColl[id] = true
	return nil
}

func (f *fakeTxRepo) AddCustomerDueBalance(_ context.Context, customerID int64, delta decimal.Decimal) error {
	f.dueBalance[customerID] = f.dueBalance[customerID].Add(delta)
	return nil
}

func (f *fakeTxRepo) GetSaleCustomer(_ context.Context, saleID uuid.UUID) (int64, bool, error) {
	id, ok := f.saleCustomer[saleID]
	return id, ok, nil
}

func (f *fakeTxRepo) SumOnAccountPayments(_ context.Context, saleID uuid.UUID) (decimal.Decimal, error) {
	return f.onAccount[saleID], nil
}

type fakeRepo struct {
	tx *fakeTxRepo
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, f.tx)
}

func (f *fakeRepo) GetAccountsByCodes(_ context.Context, codes []string) (map[string]Account, error) {
	out := make(map[string]Account, len(codes))
	for _, code := range codes {
		for _, account := range f.tx.accounts {
			if account.Code == code {
				out[code] = account
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetEntry(_ context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := f.tx.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return *entry, nil
}

func (f *fakeRepo) DeriveAccountBalance(_ context.Context, accountID int64) (decimal.Decimal, error) {
	account, ok := f.tx.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	var derived decimal.Decimal
	for _, entry := range f.tx.entries {
		if entry.Status != EntryStatusPosted {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				derived = derived.Add(signedDelta(account.NormalBalance, line.Side, line.Amount))
			}
		}
	}
	return derived, nil
}

func (f *fakeRepo) CheckBalances(_ context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	for id, account := range f.tx.accounts {
		derived, err := f.DeriveAccountBalance(context.Background(), id)
		if err != nil {
			return nil, err
		}
		if !derived.Equal(account.CurrentBalance) {
			drifts = append(drifts, BalanceDrift{AccountID: id, Code: account.Code, Stored: account.CurrentBalance, Derived: derived})
		}
	}
	return drifts, nil
}

var testClock = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(tx *fakeTxRepo) *Service {
	svc := NewService(&fakeRepo{tx: tx}, nil)
	svc.WithNow(func() time.Time { return testClock })
	return svc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func salesLines(cash, revenue, tax decimal.Decimal) []LineInput {
	return []LineInput{
		{AccountID: 1, Amount: cash, Side: SideDebit, Description: "cash tender"},
		{AccountID: 2, Amount: revenue, Side: SideCredit, Description: "sales revenue"},
		{AccountID: 3, Amount: tax, Side: SideCredit, Description: "sales tax payable"},
	}
}

func seedSalesAccounts(tx *fakeTxRepo) {
	tx.seedAccount(1, CodeCash, AccountTypeAsset, SideDebit, decimal.Zero)
	tx.seedAccount(2, CodeSalesRevenue, AccountTypeRevenue, SideCredit, decimal.Zero)
	tx.seedAccount(3, CodeSalesTaxPayable, AccountTypeLiability, SideCredit, decimal.Zero)
}

func TestPostAppliesSignedDeltas(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		Source:    SourceRef{Type: SourceSale, ID: uuid.New()},
		Memo:      "walk-in sale",
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.NotNil(t, entry.PostedAt)
	require.True(t, entry.TotalDebit.Equal(dec("108")))
	require.True(t, entry.TotalCredit.Equal(dec("108")))
	require.Regexp(t, regexp.MustCompile(`^JE-20260314-[0-9A-F]{8}$`), entry.Number)

	require.True(t, tx.accounts[1].CurrentBalance.Equal(dec("108")), "debit grows a debit-normal account")
	require.True(t, tx.accounts[2].CurrentBalance.Equal(dec("100")), "credit grows a credit-normal account")
	require.True(t, tx.accounts[3].CurrentBalance.Equal(dec("8")))
}

func TestPostDebitAgainstCreditNormalShrinks(t *testing.T) {
	tx := newFakeTxRepo()
	tx.seedAccount(1, CodeCash, AccountTypeAsset, SideDebit, dec("500"))
	tx.seedAccount(2, CodeSalesRevenue, AccountTypeRevenue, SideCredit, dec("500"))
	svc := newTestService(tx)

	// A refund: revenue debited, cash credited. Both balances shrink.
	_, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines: []LineInput{
			{AccountID: 2, Amount: dec("50"), Side: SideDebit},
			{AccountID: 1, Amount: dec("50"), Side: SideCredit},
		},
	})
	require.NoError(t, err)
	require.True(t, tx.accounts[1].CurrentBalance.Equal(dec("450")))
	require.True(t, tx.accounts[2].CurrentBalance.Equal(dec("450")))
}

func TestPostBalanceTolerance(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	_, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8.01")),
	})
	require.ErrorIs(t, err, ErrUnbalancedEntry)
	require.True(t, tx.accounts[1].CurrentBalance.IsZero(), "rejected entry must not move balances")

	// A sub-tolerance rounding residue still posts.
	_, err = svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8.0005")),
	})
	require.NoError(t, err)
}

func TestPostRejectsBadInput(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	_, err := svc.Post(context.Background(), PostingInput{Date: testClock, CreatedBy: 7})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines: []LineInput{
			{AccountID: 1, Amount: dec("0"), Side: SideDebit},
			{AccountID: 2, Amount: dec("0"), Side: SideCredit},
		},
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPostRejectsLockedPeriod(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	tx.periods = []Period{{
		ID:        1,
		Code:      "2026-03",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusLocked,
	}}
	svc := newTestService(tx)

	_, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.ErrorIs(t, err, ErrPeriodLocked)

	// A date outside every period row posts: periods are optional.
	_, err = svc.Post(context.Background(), PostingInput{
		Date:      time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)
}

func TestDraftLifecycle(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	draft, err := svc.SaveDraft(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)
	require.Equal(t, EntryStatusDraft, draft.Status)
	require.True(t, tx.accounts[1].CurrentBalance.IsZero(), "drafts never touch balances")

	posted, err := svc.PostDraft(context.Background(), draft.ID, 7)
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)
	require.True(t, tx.accounts[1].CurrentBalance.Equal(dec("108")))

	_, err = svc.PostDraft(context.Background(), draft.ID, 7)
	require.ErrorIs(t, err, ErrNotDraft)

	err = svc.DeleteDraft(context.Background(), draft.ID, 7)
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestSaveDraftAllowsUnbalanced(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	draft, err := svc.SaveDraft(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines: []LineInput{
			{AccountID: 1, Amount: dec("100"), Side: SideDebit},
		},
	})
	require.NoError(t, err)

	// Posting the lopsided draft is where balance gets enforced.
	_, err = svc.PostDraft(context.Background(), draft.ID, 7)
	require.ErrorIs(t, err, ErrUnbalancedEntry)

	require.NoError(t, svc.DeleteDraft(context.Background(), draft.ID, 7))
	_, err = svc.PostDraft(context.Background(), draft.ID, 7)
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestVoidReversesDeltas(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		Source:    SourceRef{Type: SourceManual, ID: uuid.New()},
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)

	voided, err := svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "keyed twice", ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, EntryStatusVoid, voided.Status)
	require.Equal(t, "keyed twice", voided.VoidReason)
	require.NotNil(t, voided.VoidedAt)

	require.True(t, tx.accounts[1].CurrentBalance.IsZero())
	require.True(t, tx.accounts[2].CurrentBalance.IsZero())
	require.True(t, tx.accounts[3].CurrentBalance.IsZero())

	_, err = svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "again", ActorID: 9})
	require.ErrorIs(t, err, ErrNotPosted)
}

func TestVoidRejectsCorruptEntry(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)

	// Tamper with a stored line so debits and credits no longer agree.
	tx.entries[entry.ID].Lines[0].Amount = dec("200")

	_, err = svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "bad", ActorID: 9})
	require.ErrorIs(t, err, ErrCorruptEntry)
	require.Equal(t, EntryStatusPosted, tx.entries[entry.ID].Status)
	require.True(t, tx.accounts[2].CurrentBalance.Equal(dec("100")), "aborted void leaves balances alone")
}

func TestVoidRejectsLockedPeriod(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)

	tx.periods = []Period{{
		ID:        1,
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusClosed,
	}}

	_, err = svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "late", ActorID: 9})
	require.ErrorIs(t, err, ErrPeriodLocked)
	require.Equal(t, EntryStatusPosted, tx.entries[entry.ID].Status)
}

func TestVoidCascadeRestoresDueCollection(t *testing.T) {
	tx := newFakeTxRepo()
	tx.seedAccount(1, CodeCash, AccountTypeAsset, SideDebit, decimal.Zero)
	tx.seedAccount(2, CodeAccountsReceivable, AccountTypeAsset, SideDebit, dec("30"))
	svc := newTestService(tx)

	collectionID := uuid.New()
	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		Source:    SourceRef{Type: SourceDueCollection, ID: collectionID},
		CreatedBy: 7,
		Lines: []LineInput{
			{AccountID: 1, Amount: dec("30"), Side: SideDebit},
			{AccountID: 2, Amount: dec("30"), Side: SideCredit},
		},
	})
	require.NoError(t, err)

	tx.collections[entry.ID] = []DueCollectionRef{{ID: collectionID, CustomerID: 42, Amount: dec("30")}}
	tx.dueBalance[42] = dec("20")

	_, err = svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "wrong customer", ActorID: 9})
	require.NoError(t, err)

	require.True(t, tx.dueBalance[42].Equal(dec("50")), "voiding the collection puts the debt back")
	require.True(t, tx.voidedColl[collectionID])
	require.True(t, tx.accounts[1].CurrentBalance.IsZero())
	require.True(t, tx.accounts[2].CurrentBalance.Equal(dec("30")))
}

func TestVoidSaleUnwindsOnAccountDebt(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	saleID := uuid.New()
	entry, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		Source:    SourceRef{Type: SourceSale, ID: saleID},
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)

	tx.saleCustomer[saleID] = 42
	tx.onAccount[saleID] = dec("40")
	tx.dueBalance[42] = dec("60")

	_, err = svc.Void(context.Background(), VoidInput{EntryID: entry.ID, Reason: "disputed", ActorID: 9})
	require.NoError(t, err)
	require.True(t, tx.dueBalance[42].Equal(dec("20")), "debt the sale created comes back out")
}

func TestVoidCOGSKeepsCustomerDebt(t *testing.T) {
	tx := newFakeTxRepo()
	seedChart(tx)
	svc := newTestService(tx)

	saleID := uuid.New()
	tx.saleCustomer[saleID] = 42
	tx.onAccount[saleID] = dec("40")
	tx.dueBalance[42] = dec("60")

	cogs, err := svc.PostCOGS(context.Background(), saleID, testClock, dec("74"), 7)
	require.NoError(t, err)
	require.Equal(t, SourceSaleCOGS, cogs.Source.Type)

	_, err = svc.Void(context.Background(), VoidInput{EntryID: cogs.ID, Reason: "miscount", ActorID: 9})
	require.NoError(t, err)
	require.True(t, tx.dueBalance[42].Equal(dec("60")), "the cost entry carries no tender, debt stays put")
}

func TestVoidSaleAndCOGSUnwindsDebtOnce(t *testing.T) {
	tx := newFakeTxRepo()
	seedChart(tx)
	svc := newTestService(tx)

	saleID := uuid.New()
	tx.saleCustomer[saleID] = 42
	tx.onAccount[saleID] = dec("40")
	tx.dueBalance[42] = dec("60")

	sale, err := svc.PostSale(context.Background(), SalePosting{
		SaleID:    saleID,
		Date:      testClock,
		ActorID:   7,
		Cash:      dec("68"),
		OnAccount: dec("40"),
		Revenue:   dec("100"),
		Tax:       dec("8"),
	})
	require.NoError(t, err)

	cogs, err := svc.PostCOGS(context.Background(), saleID, testClock, dec("74"), 7)
	require.NoError(t, err)

	_, err = svc.Void(context.Background(), VoidInput{EntryID: sale.ID, Reason: "disputed", ActorID: 9})
	require.NoError(t, err)
	_, err = svc.Void(context.Background(), VoidInput{EntryID: cogs.ID, Reason: "disputed", ActorID: 9})
	require.NoError(t, err)

	require.True(t, tx.dueBalance[42].Equal(dec("20")), "on-account debt unwinds exactly once")
}

func TestCheckConsistencyReportsDrift(t *testing.T) {
	tx := newFakeTxRepo()
	seedSalesAccounts(tx)
	svc := newTestService(tx)

	_, err := svc.Post(context.Background(), PostingInput{
		Date:      testClock,
		CreatedBy: 7,
		Lines:     salesLines(dec("108"), dec("100"), dec("8")),
	})
	require.NoError(t, err)

	drifts, err := svc.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)

	// Corrupt one stored balance out from under the posted lines.
	account := tx.accounts[2]
	account.CurrentBalance = dec("90")
	tx.accounts[2] = account

	drifts, err = svc.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, int64(2), drifts[0].AccountID)
	require.True(t, drifts[0].Stored.Equal(dec("90")))
	require.True(t, drifts[0].Derived.Equal(dec("100")))

	derived, err := svc.RecomputeBalance(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, derived.Equal(dec("100")))
}
