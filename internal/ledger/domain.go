package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Side distinguishes debit from credit lines.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// EntryStatus enumerates journal entry lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoid   EntryStatus = "VOID"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// SourceType tags the business document that caused a journal entry.
type SourceType string

const (
	SourceSale            SourceType = "SALE"
	SourceSaleCOGS        SourceType = "SALE_COGS"
	SourceReturn          SourceType = "RETURN"
	SourcePurchaseOrder   SourceType = "PURCHASE_ORDER"
	SourcePurchasePayment SourceType = "PURCHASE_PAYMENT"
	SourceDueCollection   SourceType = "DUE_COLLECTION"
	SourceWriteOff        SourceType = "WRITE_OFF"
	SourceCycleCount      SourceType = "CYCLE_COUNT"
	SourceExpense         SourceType = "EXPENSE"
	SourceManual          SourceType = "MANUAL"
)

// SourceRef is a typed reference to the originating business document.
type SourceRef struct {
	Type SourceType
	ID   uuid.UUID
}

// Account models a chart of accounts node with its running balance.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	NormalBalance  Side
	CurrentBalance decimal.Decimal
	ParentID       *int64
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Period represents a fiscal period window.
type Period struct {
	ID        int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures one balanced financial event.
type JournalEntry struct {
	ID          int64
	Number      string
	Date        time.Time
	Status      EntryStatus
	Source      SourceRef
	Memo        string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	PostedAt    *time.Time
	VoidedAt    *time.Time
	VoidReason  string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []JournalLine
}

// JournalLine stores a single debit or credit against an account.
type JournalLine struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Amount      decimal.Decimal
	Side        Side
	Description string
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID   int64
	Amount      decimal.Decimal
	Side        Side
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date      time.Time
	Source    SourceRef
	Memo      string
	CreatedBy int64
	Lines     []LineInput
}

// VoidInput carries a void request.
type VoidInput struct {
	EntryID int64
	Reason  string
	ActorID int64
}

// BalanceDrift reports an account whose stored balance disagrees with the
// sum of its posted lines.
type BalanceDrift struct {
	AccountID int64
	Code      string
	Stored    decimal.Decimal
	Derived   decimal.Decimal
}

var (
	// ErrUnbalancedEntry indicates debits and credits do not match.
	ErrUnbalancedEntry = errors.New("ledger: entry debits and credits do not balance")
	// ErrAccountNotFound indicates a referenced account is missing.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrNotPosted indicates the entry is not in posted status.
	ErrNotPosted = errors.New("ledger: entry is not posted")
	// ErrNotDraft indicates the entry is not in draft status.
	ErrNotDraft = errors.New("ledger: entry is not a draft")
	// ErrPeriodLocked indicates the accounting period does not accept postings.
	ErrPeriodLocked = errors.New("ledger: accounting period is locked")
	// ErrCorruptEntry indicates stored lines no longer balance; voids abort.
	ErrCorruptEntry = errors.New("ledger: stored entry lines do not balance")
	// ErrInvalidAmount indicates a non-positive line amount.
	ErrInvalidAmount = errors.New("ledger: line amount must be positive")
	// ErrNoLines indicates an entry without lines.
	ErrNoLines = errors.New("ledger: entry requires at least one line")
	// ErrAccountingNotConfigured indicates required chart-of-accounts codes
	// are absent. Orchestrators downgrade this to a silent skip.
	ErrAccountingNotConfigured = errors.New("ledger: chart of accounts not configured")
)

// balanceTolerance absorbs rounding noise when comparing debit and credit
// totals.
var balanceTolerance = decimal.NewFromFloat(0.001)

// signedDelta converts a line into its effect on an account's running
// balance. Debit-normal accounts grow with debits; credit-normal accounts
// grow with credits.
func signedDelta(normal Side, side Side, amount decimal.Decimal) decimal.Decimal {
	if normal == side {
		return amount
	}
	return amount.Neg()
}

// sumSides totals line amounts per side.
func sumSides(lines []LineInput) (debit, credit decimal.Decimal) {
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

// balanced reports whether debit and credit totals agree within tolerance.
func balanced(debit, credit decimal.Decimal) bool {
	return debit.Sub(credit).Abs().LessThanOrEqual(balanceTolerance)
}
