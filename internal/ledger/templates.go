package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stable chart-of-accounts codes. Seeding is an external setup step; the
// engine looks accounts up by code (never id) so re-seeding is safe, and an
// absent code means "accounting not configured" rather than an error.
const (
	CodeCash                 = "1000"
	CodeAccountsReceivable   = "1100"
	CodeInventory            = "1200"
	CodeAccountsPayable      = "2000"
	CodeSalesTaxPayable      = "2200"
	CodeStoreCreditLiability = "2300"
	CodeGiftCardLiability    = "2400"
	CodeSalesRevenue         = "4000"
	CodeCOGS                 = "5000"
	CodeInventoryVariance    = "5100"
	CodeFreightIn            = "5200"
)

// resolveCodes loads the requested accounts; any missing code downgrades the
// whole template to ErrAccountingNotConfigured.
func (s *Service) resolveCodes(ctx context.Context, codes ...string) (map[string]Account, error) {
	accounts, err := s.repo.GetAccountsByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		if _, ok := accounts[code]; !ok {
			return nil, fmt.Errorf("%w: missing account %s", ErrAccountingNotConfigured, code)
		}
	}
	return accounts, nil
}

// SalePosting carries the amounts needed to post a completed sale. Tender
// amounts are grouped by the account they settle against; zero amounts drop
// their line.
type SalePosting struct {
	SaleID      uuid.UUID
	Date        time.Time
	Memo        string
	ActorID     int64
	Cash        decimal.Decimal
	OnAccount   decimal.Decimal
	StoreCredit decimal.Decimal
	GiftCard    decimal.Decimal
	Revenue     decimal.Decimal
	Tax         decimal.Decimal
}

// PostSale posts the revenue side of a sale: tenders debit their settlement
// accounts, revenue and sales tax are credited.
func (s *Service) PostSale(ctx context.Context, p SalePosting) (JournalEntry, error) {
	accounts, err := s.resolveCodes(ctx, CodeCash, CodeAccountsReceivable, CodeStoreCreditLiability, CodeGiftCardLiability, CodeSalesRevenue, CodeSalesTaxPayable)
	if err != nil {
		return JournalEntry{}, err
	}
	var lines []LineInput
	lines = appendLine(lines, accounts[CodeCash].ID, p.Cash, SideDebit, "cash tender")
	lines = appendLine(lines, accounts[CodeAccountsReceivable].ID, p.OnAccount, SideDebit, "on-account tender")
	lines = appendLine(lines, accounts[CodeStoreCreditLiability].ID, p.StoreCredit, SideDebit, "store credit tender")
	lines = appendLine(lines, accounts[CodeGiftCardLiability].ID, p.GiftCard, SideDebit, "gift card tender")
	lines = appendLine(lines, accounts[CodeSalesRevenue].ID, p.Revenue, SideCredit, "sales revenue")
	lines = appendLine(lines, accounts[CodeSalesTaxPayable].ID, p.Tax, SideCredit, "sales tax payable")
	return s.Post(ctx, PostingInput{
		Date:      p.Date,
		Source:    SourceRef{Type: SourceSale, ID: p.SaleID},
		Memo:      p.Memo,
		CreatedBy: p.ActorID,
		Lines:     lines,
	})
}

// PostCOGS posts cost of goods sold for a sale.
func (s *Service) PostCOGS(ctx context.Context, saleID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (JournalEntry, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, ErrInvalidAmount
	}
	accounts, err := s.resolveCodes(ctx, CodeCOGS, CodeInventory)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.Post(ctx, PostingInput{
		Date:      date,
		Source:    SourceRef{Type: SourceSaleCOGS, ID: saleID},
		Memo:      "cost of goods sold",
		CreatedBy: actorID,
		Lines: []LineInput{
			{AccountID: accounts[CodeCOGS].ID, Amount: amount, Side: SideDebit},
			{AccountID: accounts[CodeInventory].ID, Amount: amount, Side: SideCredit},
		},
	})
}

// PostCOGSReversal returns cost back into inventory on a customer return.
func (s *Service) PostCOGSReversal(ctx context.Context, returnID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (JournalEntry, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, ErrInvalidAmount
	}
	accounts, err := s.resolveCodes(ctx, CodeCOGS, CodeInventory)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.Post(ctx, PostingInput{
		Date:      date,
		Source:    SourceRef{Type: SourceReturn, ID: returnID},
		Memo:      "cost reversal on return",
		CreatedBy: actorID,
		Lines: []LineInput{
			{AccountID: accounts[CodeInventory].ID, Amount: amount, Side: SideDebit},
			{AccountID: accounts[CodeCOGS].ID, Amount: amount, Side: SideCredit},
		},
	})
}

// ReturnPosting carries the proportional revenue/tax split of a refund.
type ReturnPosting struct {
	ReturnID uuid.UUID
	Date     time.Time
	Memo     string
	ActorID  int64
	Revenue  decimal.Decimal
	Tax      decimal.Decimal
}

// PostReturn reverses revenue and tax for a refund paid out in cash.
func (s *Service) PostReturn(ctx context.Context, p ReturnPosting) (JournalEntry, error) {
	accounts, err := s.resolveCodes(ctx, CodeSalesRevenue, CodeSalesTaxPayable, CodeCash)
	if err != nil {
		return JournalEntry{}, err
	}
	var lines []LineInput
	lines = appendLine(lines, accounts[CodeSalesRevenue].ID, p.Revenue, SideDebit, "revenue reversal")
	lines = appendLine(lines, accounts[CodeSalesTaxPayable].ID, p.Tax, SideDebit, "tax reversal")
	lines = appendLine(lines, accounts[CodeCash].ID, p.Revenue.Add(p.Tax), SideCredit, "refund")
	return s.Post(ctx, PostingInput{
		Date:      p.Date,
		Source:    SourceRef{Type: SourceReturn, ID: p.ReturnID},
		Memo:      p.Memo,
		CreatedBy: p.ActorID,
		Lines:     lines,
	})
}

// ReceiptPosting carries the valuation of a goods receipt. Tax paid on the
// purchase is capitalised into inventory.
type ReceiptPosting struct {
	PurchaseOrderID uuid.UUID
	Date            time.Time
	Memo            string
	ActorID         int64
	InventoryValue  decimal.Decimal
	Freight         decimal.Decimal
}

// PostPurchaseReceipt debits inventory (and freight-in when shipping was
// charged) against accounts payable.
func (s *Service) PostPurchaseReceipt(ctx context.Context, p ReceiptPosting) (JournalEntry, error) {
	accounts, err := s.resolveCodes(ctx, CodeInventory, CodeFreightIn, CodeAccountsPayable)
	if err != nil {
		return JournalEntry{}, err
	}
	var lines []LineInput
	lines = appendLine(lines, accounts[CodeInventory].ID, p.InventoryValue, SideDebit, "inventory received")
	lines = appendLine(lines, accounts[CodeFreightIn].ID, p.Freight, SideDebit, "freight-in")
	lines = appendLine(lines, accounts[CodeAccountsPayable].ID, p.InventoryValue.Add(p.Freight), SideCredit, "accounts payable")
	return s.Post(ctx, PostingInput{
		Date:      p.Date,
		Source:    SourceRef{Type: SourcePurchaseOrder, ID: p.PurchaseOrderID},
		Memo:      p.Memo,
		CreatedBy: p.ActorID,
		Lines:     lines,
	})
}

// PostPurchasePayment settles accounts payable in cash.
func (s *Service) PostPurchasePayment(ctx context.Context, poID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (JournalEntry, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, ErrInvalidAmount
	}
	accounts, err := s.resolveCodes(ctx, CodeAccountsPayable, CodeCash)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.Post(ctx, PostingInput{
		Date:      date,
		Source:    SourceRef{Type: SourcePurchasePayment, ID: poID},
		Memo:      "purchase payment",
		CreatedBy: actorID,
		Lines: []LineInput{
			{AccountID: accounts[CodeAccountsPayable].ID, Amount: amount, Side: SideDebit},
			{AccountID: accounts[CodeCash].ID, Amount: amount, Side: SideCredit},
		},
	})
}

// PostVariance books an inventory variance. A negative signed amount is
// shrink (variance expense up, inventory down); a positive one is a gain.
func (s *Service) PostVariance(ctx context.Context, source SourceRef, date time.Time, signed decimal.Decimal, memo string, actorID int64) (JournalEntry, error) {
	if signed.IsZero() {
		return JournalEntry{}, ErrInvalidAmount
	}
	accounts, err := s.resolveCodes(ctx, CodeInventoryVariance, CodeInventory)
	if err != nil {
		return JournalEntry{}, err
	}
	amount := signed.Abs()
	debit, credit := accounts[CodeInventoryVariance].ID, accounts[CodeInventory].ID
	if signed.IsPositive() {
		debit, credit = credit, debit
	}
	return s.Post(ctx, PostingInput{
		Date:      date,
		Source:    source,
		Memo:      memo,
		CreatedBy: actorID,
		Lines: []LineInput{
			{AccountID: debit, Amount: amount, Side: SideDebit},
			{AccountID: credit, Amount: amount, Side: SideCredit},
		},
	})
}

// CollectionMethod selects the settlement account for a due collection.
type CollectionMethod string

const (
	CollectionMethodCash        CollectionMethod = "CASH"
	CollectionMethodStoreCredit CollectionMethod = "STORE_CREDIT"
)

// PostDueCollection books a customer debt repayment against receivables.
func (s *Service) PostDueCollection(ctx context.Context, collectionID uuid.UUID, date time.Time, amount decimal.Decimal, method CollectionMethod, actorID int64) (JournalEntry, error) {
	if !amount.IsPositive() {
		return JournalEntry{}, ErrInvalidAmount
	}
	debitCode := CodeCash
	if method == CollectionMethodStoreCredit {
		debitCode = CodeStoreCreditLiability
	}
	accounts, err := s.resolveCodes(ctx, debitCode, CodeAccountsReceivable)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.Post(ctx, PostingInput{
		Date:      date,
		Source:    SourceRef{Type: SourceDueCollection, ID: collectionID},
		Memo:      "due collection",
		CreatedBy: actorID,
		Lines: []LineInput{
			{AccountID: accounts[debitCode].ID, Amount: amount, Side: SideDebit},
			{AccountID: accounts[CodeAccountsReceivable].ID, Amount: amount, Side: SideCredit},
		},
	})
}

// appendLine adds a line unless the amount is zero.
func appendLine(lines []LineInput, accountID int64, amount decimal.Decimal, side Side, desc string) []LineInput {
	if amount.IsZero() {
		return lines
	}
	return append(lines, LineInput{AccountID: accountID, Amount: amount, Side: side, Description: desc})
}
