// Package integration delivers queued outbox records to the general ledger.
// Delivery is the best-effort second phase of every business operation: a
// failure is recorded on the outbox row and retried by the re-drive job,
// never surfaced to the operation that enqueued it.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

// LedgerPort exposes the posting templates delivery calls into.
type LedgerPort interface {
	PostSale(ctx context.Context, p ledger.SalePosting) (ledger.JournalEntry, error)
	PostCOGS(ctx context.Context, saleID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (ledger.JournalEntry, error)
	PostCOGSReversal(ctx context.Context, returnID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (ledger.JournalEntry, error)
	PostReturn(ctx context.Context, p ledger.ReturnPosting) (ledger.JournalEntry, error)
	PostPurchaseReceipt(ctx context.Context, p ledger.ReceiptPosting) (ledger.JournalEntry, error)
	PostPurchasePayment(ctx context.Context, poID uuid.UUID, date time.Time, amount decimal.Decimal, actorID int64) (ledger.JournalEntry, error)
	PostVariance(ctx context.Context, source ledger.SourceRef, date time.Time, signed decimal.Decimal, memo string, actorID int64) (ledger.JournalEntry, error)
	PostDueCollection(ctx context.Context, collectionID uuid.UUID, date time.Time, amount decimal.Decimal, method ledger.CollectionMethod, actorID int64) (ledger.JournalEntry, error)
}

// OutboxPort exposes the outbox rows delivery walks and settles.
type OutboxPort interface {
	Get(ctx context.Context, id int64) (outbox.Record, error)
	ListPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPosted(ctx context.Context, id int64, entryID int64) error
	MarkAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) error
}

// SalesWriteback records which journal entry a sales-side posting produced.
type SalesWriteback interface {
	SetSaleJournalEntry(ctx context.Context, saleID uuid.UUID, entryID int64) error
	SetSaleCOGSJournalEntry(ctx context.Context, saleID uuid.UUID, entryID int64) error
	SetReturnJournalEntry(ctx context.Context, returnID uuid.UUID, entryID int64) error
	SetReturnCOGSJournalEntry(ctx context.Context, returnID uuid.UUID, entryID int64) error
	SetDueCollectionJournalEntry(ctx context.Context, collectionID uuid.UUID, entryID int64) error
}

// ProcurementWriteback records which journal entry a purchase posting
// produced.
type ProcurementWriteback interface {
	SetOrderJournalEntry(ctx context.Context, orderID uuid.UUID, entryID int64) error
	SetPaymentJournalEntry(ctx context.Context, paymentID uuid.UUID, entryID int64) error
}

// Hooks delivers outbox records into the ledger and writes the resulting
// journal entry ids back onto the originating records.
type Hooks struct {
	ledger      LedgerPort
	outbox      OutboxPort
	sales       SalesWriteback
	procurement ProcurementWriteback
	log         *slog.Logger
	maxAttempts int
}

// NewHooks constructs Hooks.
func NewHooks(ledgerPort LedgerPort, outboxPort OutboxPort, sales SalesWriteback, procurement ProcurementWriteback, log *slog.Logger, maxAttempts int) *Hooks {
	if log == nil {
		log = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Hooks{
		ledger:      ledgerPort,
		outbox:      outboxPort,
		sales:       sales,
		procurement: procurement,
		log:         log,
		maxAttempts: maxAttempts,
	}
}

// Deliver attempts one record and swallows every failure; the orchestrators
// call it right after their phase-one commit.
func (h *Hooks) Deliver(ctx context.Context, outboxID int64) {
	if h == nil {
		return
	}
	record, err := h.outbox.Get(ctx, outboxID)
	if err != nil {
		h.log.Warn("outbox record load failed", "outbox_id", outboxID, "error", err)
		return
	}
	h.attempt(ctx, record)
}

// Redrive retries every pending record, oldest first. Returns how many were
// posted.
func (h *Hooks) Redrive(ctx context.Context, limit int) (int, error) {
	records, err := h.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, record := range records {
		if h.attempt(ctx, record) {
			posted++
		}
	}
	return posted, nil
}

func (h *Hooks) attempt(ctx context.Context, record outbox.Record) bool {
	if record.Status != outbox.StatusPending {
		return false
	}
	entry, writeback, err := h.post(ctx, record)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountingNotConfigured) {
			h.log.Info("ledger posting skipped, accounting not configured", "outbox_id", record.ID, "kind", record.Kind)
		} else {
			h.log.Warn("ledger posting failed", "outbox_id", record.ID, "kind", record.Kind, "error", err)
		}
		if markErr := h.outbox.MarkAttemptFailed(ctx, record.ID, err.Error(), h.maxAttempts); markErr != nil {
			h.log.Warn("outbox failure mark failed", "outbox_id", record.ID, "error", markErr)
		}
		return false
	}
	if err := h.outbox.MarkPosted(ctx, record.ID, entry.ID); err != nil {
		h.log.Warn("outbox posted mark failed", "outbox_id", record.ID, "error", err)
	}
	if writeback != nil {
		if err := writeback(ctx, entry.ID); err != nil {
			h.log.Warn("journal entry writeback failed", "outbox_id", record.ID, "entry_id", entry.ID, "error", err)
		}
	}
	return true
}

type writebackFunc func(ctx context.Context, entryID int64) error

func (h *Hooks) post(ctx context.Context, record outbox.Record) (ledger.JournalEntry, writebackFunc, error) {
	switch record.Kind {
	case outbox.KindSale:
		var p outbox.SalePayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostSale(ctx, ledger.SalePosting{
			SaleID:      p.SaleID,
			Date:        p.Date,
			Memo:        p.Memo,
			ActorID:     p.ActorID,
			Cash:        p.Cash,
			OnAccount:   p.OnAccount,
			StoreCredit: p.StoreCredit,
			GiftCard:    p.GiftCard,
			Revenue:     p.Revenue,
			Tax:         p.Tax,
		})
		return entry, h.salesWriteback(p.SaleID, SalesWriteback.SetSaleJournalEntry), err
	case outbox.KindSaleCOGS:
		var p outbox.SaleCOGSPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostCOGS(ctx, p.SaleID, p.Date, p.Cost, p.ActorID)
		return entry, h.salesWriteback(p.SaleID, SalesWriteback.SetSaleCOGSJournalEntry), err
	case outbox.KindReturn:
		var p outbox.ReturnPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostReturn(ctx, ledger.ReturnPosting{
			ReturnID: p.ReturnID,
			Date:     p.Date,
			Memo:     p.Memo,
			ActorID:  p.ActorID,
			Revenue:  p.Revenue,
			Tax:      p.Tax,
		})
		return entry, h.salesWriteback(p.ReturnID, SalesWriteback.SetReturnJournalEntry), err
	case outbox.KindReturnCOGS:
		var p outbox.ReturnCOGSPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostCOGSReversal(ctx, p.ReturnID, p.Date, p.Cost, p.ActorID)
		return entry, h.salesWriteback(p.ReturnID, SalesWriteback.SetReturnCOGSJournalEntry), err
	case outbox.KindPurchaseReceipt:
		var p outbox.PurchaseReceiptPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostPurchaseReceipt(ctx, ledger.ReceiptPosting{
			PurchaseOrderID: p.PurchaseOrderID,
			Date:            p.Date,
			Memo:            p.Memo,
			ActorID:         p.ActorID,
			InventoryValue:  p.InventoryValue,
			Freight:         p.Freight,
		})
		var wb writebackFunc
		if h.procurement != nil {
			wb = func(ctx context.Context, entryID int64) error {
				return h.procurement.SetOrderJournalEntry(ctx, p.PurchaseOrderID, entryID)
			}
		}
		return entry, wb, err
	case outbox.KindPurchasePayment:
		var p outbox.PurchasePaymentPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		entry, err := h.ledger.PostPurchasePayment(ctx, p.PurchaseOrderID, p.Date, p.Amount, p.ActorID)
		var wb writebackFunc
		if h.procurement != nil {
			wb = func(ctx context.Context, entryID int64) error {
				return h.procurement.SetPaymentJournalEntry(ctx, record.SourceID, entryID)
			}
		}
		return entry, wb, err
	case outbox.KindDueCollection:
		var p outbox.DueCollectionPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		method := ledger.CollectionMethodCash
		if p.Method == "STORE_CREDIT" {
			method = ledger.CollectionMethodStoreCredit
		}
		entry, err := h.ledger.PostDueCollection(ctx, p.CollectionID, p.Date, p.Amount, method, p.ActorID)
		return entry, h.salesWriteback(p.CollectionID, SalesWriteback.SetDueCollectionJournalEntry), err
	case outbox.KindVariance:
		var p outbox.VariancePayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return ledger.JournalEntry{}, nil, err
		}
		source := ledger.SourceRef{Type: ledger.SourceType(record.SourceType), ID: p.SourceID}
		entry, err := h.ledger.PostVariance(ctx, source, p.Date, p.Value, p.Memo, p.ActorID)
		return entry, nil, err
	default:
		return ledger.JournalEntry{}, nil, fmt.Errorf("integration: unknown outbox kind %q", record.Kind)
	}
}

func (h *Hooks) salesWriteback(id uuid.UUID, set func(SalesWriteback, context.Context, uuid.UUID, int64) error) writebackFunc {
	if h.sales == nil {
		return nil
	}
	return func(ctx context.Context, entryID int64) error {
		return set(h.sales, ctx, id, entryID)
	}
}
