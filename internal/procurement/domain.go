// Package procurement orchestrates purchase receipts and supplier payments.
// Receiving runs the atomic operational phase (stock, cost layers, order
// state) first; the accounts-payable posting is enqueued in the same
// transaction and delivered best-effort afterwards.
package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// POStatus tracks a purchase order.
type POStatus string

const (
	POOpen              POStatus = "OPEN"
	POPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POReceived          POStatus = "RECEIVED"
	POPaid              POStatus = "PAID"
	POCancelled         POStatus = "CANCELLED"
)

// Supplier carries the fields receiving validates and mutates.
type Supplier struct {
	ID       int64
	Name     string
	IsActive bool
	Balance  decimal.Decimal
}

// PurchaseOrder is a supplier order being received and paid.
type PurchaseOrder struct {
	ID             uuid.UUID
	SupplierID     int64
	Status         POStatus
	Subtotal       decimal.Decimal
	Freight        decimal.Decimal
	Total          decimal.Decimal
	PaidTotal      decimal.Decimal
	JournalEntryID *int64
	CreatedBy      int64
	CreatedAt      time.Time
}

// POLine is one ordered item.
type POLine struct {
	ID               int64
	PurchaseOrderID  uuid.UUID
	ProductID        int64
	VariantID        *int64
	LocationID       *int64
	OrderedQuantity  decimal.Decimal
	ReceivedQuantity decimal.Decimal
	UnitCost         decimal.Decimal
}

// PurchasePayment settles part of a purchase order.
type PurchasePayment struct {
	ID              uuid.UUID
	PurchaseOrderID uuid.UUID
	Amount          decimal.Decimal
	JournalEntryID  *int64
	CreatedBy       int64
	CreatedAt       time.Time
}

// ReceiveLineInput is one received line; lot and expiry feed the cost layer.
type ReceiveLineInput struct {
	POLineID       int64
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	LotNumber      string
	ExpirationDate *time.Time
}

// ReceiveInput books a delivery against an order.
type ReceiveInput struct {
	PurchaseOrderID uuid.UUID
	Lines           []ReceiveLineInput
	Freight         decimal.Decimal
	ActorID         int64
}

// PayInput settles part of an order's balance.
type PayInput struct {
	PurchaseOrderID uuid.UUID
	Amount          decimal.Decimal
	ActorID         int64
}

var (
	ErrOrderNotFound      = errors.New("procurement: purchase order not found")
	ErrLineNotFound       = errors.New("procurement: purchase order line not found")
	ErrSupplierNotFound   = errors.New("procurement: supplier not found")
	ErrSupplierInactive   = errors.New("procurement: supplier is inactive")
	ErrOrderClosed        = errors.New("procurement: purchase order is not receivable")
	ErrNoLines            = errors.New("procurement: receipt requires at least one line")
	ErrInvalidQuantity    = errors.New("procurement: quantity must be positive")
	ErrInvalidAmount      = errors.New("procurement: amount must be positive")
	ErrReceiveExceedsOpen = errors.New("procurement: received quantity exceeds open quantity")
	ErrOverpayment        = errors.New("procurement: payment exceeds outstanding balance")
)
