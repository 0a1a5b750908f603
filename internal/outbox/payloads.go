package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payloads carry everything the ledger templates need so a re-drive never
// has to re-read operational rows that may have changed since phase one.

// SalePayload posts the revenue side of a completed sale.
type SalePayload struct {
	SaleID      uuid.UUID       `json:"sale_id"`
	Date        time.Time       `json:"date"`
	Memo        string          `json:"memo"`
	ActorID     int64           `json:"actor_id"`
	Cash        decimal.Decimal `json:"cash"`
	OnAccount   decimal.Decimal `json:"on_account"`
	StoreCredit decimal.Decimal `json:"store_credit"`
	GiftCard    decimal.Decimal `json:"gift_card"`
	Revenue     decimal.Decimal `json:"revenue"`
	Tax         decimal.Decimal `json:"tax"`
}

// SaleCOGSPayload posts cost of goods for a sale; Cost is the FIFO-valued
// total of the consumed layers.
type SaleCOGSPayload struct {
	SaleID  uuid.UUID       `json:"sale_id"`
	Date    time.Time       `json:"date"`
	Memo    string          `json:"memo"`
	ActorID int64           `json:"actor_id"`
	Cost    decimal.Decimal `json:"cost"`
}

// ReturnPayload reverses revenue and tax for a refund.
type ReturnPayload struct {
	ReturnID uuid.UUID       `json:"return_id"`
	SaleID   uuid.UUID       `json:"sale_id"`
	Date     time.Time       `json:"date"`
	Memo     string          `json:"memo"`
	ActorID  int64           `json:"actor_id"`
	Revenue  decimal.Decimal `json:"revenue"`
	Tax      decimal.Decimal `json:"tax"`
}

// ReturnCOGSPayload moves cost back into inventory for restocked goods.
type ReturnCOGSPayload struct {
	ReturnID uuid.UUID       `json:"return_id"`
	Date     time.Time       `json:"date"`
	Memo     string          `json:"memo"`
	ActorID  int64           `json:"actor_id"`
	Cost     decimal.Decimal `json:"cost"`
}

// PurchaseReceiptPayload books received inventory against accounts payable.
type PurchaseReceiptPayload struct {
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id"`
	Date            time.Time       `json:"date"`
	Memo            string          `json:"memo"`
	ActorID         int64           `json:"actor_id"`
	InventoryValue  decimal.Decimal `json:"inventory_value"`
	Freight         decimal.Decimal `json:"freight"`
}

// PurchasePaymentPayload settles accounts payable with cash.
type PurchasePaymentPayload struct {
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id"`
	Date            time.Time       `json:"date"`
	Memo            string          `json:"memo"`
	ActorID         int64           `json:"actor_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// DueCollectionPayload settles a customer receivable.
type DueCollectionPayload struct {
	CollectionID uuid.UUID       `json:"collection_id"`
	Date         time.Time       `json:"date"`
	Memo         string          `json:"memo"`
	ActorID      int64           `json:"actor_id"`
	Method       string          `json:"method"`
	Amount       decimal.Decimal `json:"amount"`
}

// VariancePayload books an inventory gain or loss. Value is signed: negative
// for shrinkage and write-offs, positive for count gains.
type VariancePayload struct {
	SourceID uuid.UUID       `json:"source_id"`
	Date     time.Time       `json:"date"`
	Memo     string          `json:"memo"`
	ActorID  int64           `json:"actor_id"`
	Value    decimal.Decimal `json:"value"`
}
