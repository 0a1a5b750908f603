// Package sales orchestrates point-of-sale operations: recording sales with
// mixed tenders, processing returns and collecting customer dues. Every
// operation runs an all-or-nothing operational transaction first; the
// matching ledger posting is a separate best-effort phase that never undoes
// the committed operation.
package sales

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod is a tender type on a sale.
type PaymentMethod string

const (
	PayCash        PaymentMethod = "CASH"
	PayGiftCard    PaymentMethod = "GIFT_CARD"
	PayStoreCredit PaymentMethod = "STORE_CREDIT"
	PayOnAccount   PaymentMethod = "ON_ACCOUNT"
)

// SaleStatus tracks a sale document.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleReturned  SaleStatus = "RETURNED"
)

// DueStatus tracks a due collection; voided collections were unwound by a
// journal-entry void.
type DueStatus string

const (
	DueActive DueStatus = "ACTIVE"
	DueVoided DueStatus = "VOIDED"
)

// Loyalty conversion: points accrue per whole spendAccrualUnit of the sale
// total; redeemed points convert to store credit at pointValue each.
var (
	spendAccrualUnit = decimal.NewFromInt(10)
	pointValue       = decimal.NewFromFloat(0.05)
)

// Sale is a completed point-of-sale transaction.
type Sale struct {
	ID                 uuid.UUID
	CustomerID         *int64
	ShiftID            *int64
	Status             SaleStatus
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal
	TaxRate            decimal.Decimal
	TaxAmount          decimal.Decimal
	Total              decimal.Decimal
	CostTotal          decimal.Decimal
	PointsEarned       int64
	PointsRedeemed     int64
	JournalEntryID     *int64
	COGSJournalEntryID *int64
	CreatedBy          int64
	CreatedAt          time.Time
}

// SaleLine is one sold item. UnitCost is the FIFO valuation captured at sale
// time so returns restock at the cost the goods left with.
type SaleLine struct {
	ID               int64
	SaleID           uuid.UUID
	ProductID        int64
	VariantID        *int64
	LocationID       *int64
	Quantity         decimal.Decimal
	ReturnedQuantity decimal.Decimal
	UnitPrice        decimal.Decimal
	LineTotal        decimal.Decimal
	UnitCost         decimal.Decimal
}

// SalePayment is one tender on a sale.
type SalePayment struct {
	ID           int64
	SaleID       uuid.UUID
	Method       PaymentMethod
	Amount       decimal.Decimal
	GiftCardCode string
}

// Customer carries the balance fields the orchestrator mutates.
type Customer struct {
	ID            int64
	DueBalance    decimal.Decimal
	CreditLimit   decimal.Decimal
	StoreCredit   decimal.Decimal
	LoyaltyPoints int64
	TotalSpent    decimal.Decimal
	VisitCount    int64
}

// GiftCard is a stored-value card.
type GiftCard struct {
	ID       int64
	Code     string
	Balance  decimal.Decimal
	IsActive bool
}

// Return is a processed refund against a sale.
type Return struct {
	ID                 uuid.UUID
	SaleID             uuid.UUID
	RefundSubtotal     decimal.Decimal
	RefundTax          decimal.Decimal
	RefundTotal        decimal.Decimal
	CostTotal          decimal.Decimal
	JournalEntryID     *int64
	COGSJournalEntryID *int64
	CreatedBy          int64
	CreatedAt          time.Time
}

// ReturnLine is one restocked item.
type ReturnLine struct {
	ID         int64
	ReturnID   uuid.UUID
	SaleLineID int64
	Quantity   decimal.Decimal
}

// DueCollection records a customer debt repayment. JournalEntryID is set by
// the posting phase when it succeeds; voiding that entry restores the
// customer's due balance and flips the status.
type DueCollection struct {
	ID             uuid.UUID
	CustomerID     int64
	Amount         decimal.Decimal
	Method         PaymentMethod
	Status         DueStatus
	JournalEntryID *int64
	CreatedBy      int64
	CreatedAt      time.Time
}

// SaleLineInput is one cart line.
type SaleLineInput struct {
	ProductID  int64
	VariantID  *int64
	LocationID *int64
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
}

// PaymentInput is one tender offered against the total.
type PaymentInput struct {
	Method       PaymentMethod
	Amount       decimal.Decimal
	GiftCardCode string
}

// SaleInput describes a sale to record.
type SaleInput struct {
	CustomerID     *int64
	ShiftID        *int64
	Lines          []SaleLineInput
	Payments       []PaymentInput
	Discount       decimal.Decimal
	TaxRate        decimal.Decimal
	RedeemPoints   int64
	IdempotencyKey string
	ActorID        int64
}

// ReturnLineInput identifies how much of one sale line comes back.
type ReturnLineInput struct {
	SaleLineID int64
	Quantity   decimal.Decimal
}

// ReturnInput describes a refund against a sale.
type ReturnInput struct {
	SaleID  uuid.UUID
	Lines   []ReturnLineInput
	ActorID int64
}

// CollectDueInput settles part of a customer's due balance.
type CollectDueInput struct {
	CustomerID int64
	Amount     decimal.Decimal
	Method     PaymentMethod
	ActorID    int64
}

var (
	ErrNoLines                 = errors.New("sales: sale requires at least one line")
	ErrNoPayments              = errors.New("sales: sale requires at least one payment")
	ErrInvalidQuantity         = errors.New("sales: quantity must be positive")
	ErrInvalidAmount           = errors.New("sales: amount must be positive")
	ErrPaymentMismatch         = errors.New("sales: payments do not cover the total")
	ErrCustomerRequired        = errors.New("sales: operation requires a customer")
	ErrCustomerNotFound        = errors.New("sales: customer not found")
	ErrGiftCardNotFound        = errors.New("sales: gift card not found")
	ErrGiftCardInactive        = errors.New("sales: gift card is inactive")
	ErrInsufficientGiftCard    = errors.New("sales: insufficient gift card balance")
	ErrInsufficientStoreCredit = errors.New("sales: insufficient store credit")
	ErrInsufficientPoints      = errors.New("sales: insufficient loyalty points")
	ErrCreditLimitExceeded     = errors.New("sales: on-account payment exceeds credit limit")
	ErrInsufficientStock       = errors.New("sales: insufficient stock for sale line")
	ErrSaleNotFound            = errors.New("sales: sale not found")
	ErrLineNotFound            = errors.New("sales: sale line not found")
	ErrReturnExceedsSold       = errors.New("sales: return quantity exceeds remaining sold quantity")
	ErrExceedsDueBalance       = errors.New("sales: collection exceeds due balance")
	ErrDuplicateRequest        = errors.New("sales: duplicate request")
)
