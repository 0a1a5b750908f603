// Package outbox records the ledger-posting postscript of every business
// operation. Phase one of an operation enqueues a row inside its own
// transaction; the posting attempt then marks the row posted or leaves it
// pending with the failure attached, so a bookkeeping gap is observable and
// re-drivable instead of silently dropped.
package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind names the posting template a record re-drives.
type Kind string

const (
	KindSale            Kind = "SALE"
	KindSaleCOGS        Kind = "SALE_COGS"
	KindReturn          Kind = "RETURN"
	KindReturnCOGS      Kind = "RETURN_COGS"
	KindPurchaseReceipt Kind = "PURCHASE_RECEIPT"
	KindPurchasePayment Kind = "PURCHASE_PAYMENT"
	KindDueCollection   Kind = "DUE_COLLECTION"
	KindVariance        Kind = "VARIANCE"
)

// Status tracks delivery of a record to the ledger.
type Status string

const (
	// StatusPending covers both never-attempted rows and rows whose last
	// attempt failed; last_error distinguishes them.
	StatusPending Status = "PENDING"
	StatusPosted  Status = "POSTED"
	// StatusFailed marks rows that exhausted their attempts and need
	// manual review.
	StatusFailed Status = "FAILED"
)

// Record is one pending or delivered ledger posting.
type Record struct {
	ID             int64
	Kind           Kind
	SourceType     string
	SourceID       uuid.UUID
	Payload        []byte
	Status         Status
	Attempts       int
	LastError      string
	JournalEntryID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrRecordNotFound indicates a missing outbox row.
var ErrRecordNotFound = errors.New("outbox: record not found")
