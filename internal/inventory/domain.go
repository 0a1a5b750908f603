package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementPurchase   MovementType = "PURCHASE"
	MovementSale       MovementType = "SALE"
	MovementReturn     MovementType = "RETURN"
	MovementTransfer   MovementType = "TRANSFER"
	MovementDamaged    MovementType = "DAMAGED"
	MovementExpired    MovementType = "EXPIRED"
	MovementCycleCount MovementType = "CYCLE_COUNT"
)

// CostingMethod selects how receipts update the displayed cost price.
type CostingMethod string

const (
	CostingNone            CostingMethod = "NONE"
	CostingLastCost        CostingMethod = "LAST_COST"
	CostingWeightedAverage CostingMethod = "WEIGHTED_AVERAGE"
	CostingFIFO            CostingMethod = "FIFO"
)

// RefType tags the business document that caused a movement.
type RefType string

const (
	RefSale          RefType = "SALE"
	RefReturn        RefType = "RETURN"
	RefPurchaseOrder RefType = "PURCHASE_ORDER"
	RefTransfer      RefType = "TRANSFER"
	RefCycleCount    RefType = "CYCLE_COUNT"
	RefWriteOff      RefType = "WRITE_OFF"
	RefManual        RefType = "MANUAL"
)

// Ref is a typed reference to the causing document; zero value means none.
type Ref struct {
	Type RefType
	ID   uuid.UUID
}

// ItemKey identifies a stock bucket: product, optional variant, optional
// location.
type ItemKey struct {
	ProductID  int64
	VariantID  *int64
	LocationID *int64
}

// StockLevel tracks on-hand quantity per item key. Quantity never goes
// negative; free-form adjustments clamp at zero instead of failing.
type StockLevel struct {
	ID               int64
	Key              ItemKey
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	UpdatedAt        time.Time
}

// Available returns quantity minus reservations, clamped at zero.
func (l StockLevel) Available() decimal.Decimal {
	available := l.Quantity.Sub(l.ReservedQuantity)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// StockMovement is the immutable audit row for every quantity change.
type StockMovement struct {
	ID               int64
	Key              ItemKey
	Type             MovementType
	Quantity         decimal.Decimal // signed delta
	PreviousQuantity decimal.Decimal
	NewQuantity      decimal.Decimal
	Ref              Ref
	UnitCost         *decimal.Decimal
	TotalCost        *decimal.Decimal
	Note             string
	CreatedBy        int64
	CreatedAt        time.Time
}

// CostLayer is a FIFO receipt lot. Remaining quantity only ever decreases;
// a depleted layer is kept for valuation history.
type CostLayer struct {
	ID                int64
	Key               ItemKey
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	UnitCost          decimal.Decimal
	ReceivedAt        time.Time
	ExpirationDate    *time.Time
	LotNumber         string
}

// Depleted reports whether the layer has been fully consumed.
func (l CostLayer) Depleted() bool {
	return !l.RemainingQuantity.IsPositive()
}

// ConsumedLayer records how much of one layer a FIFO walk took.
type ConsumedLayer struct {
	LayerID  int64
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ConsumeResult values a FIFO consumption. UnitCost is the quantity-weighted
// average actually consumed; zero when no layers existed.
type ConsumeResult struct {
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	Consumed  []ConsumedLayer
}

// AdjustInput describes a free-form stock adjustment.
type AdjustInput struct {
	Key       ItemKey
	Delta     decimal.Decimal
	Type      MovementType
	Ref       Ref
	UnitCost  *decimal.Decimal
	TotalCost *decimal.Decimal
	Note      string
	ActorID   int64
}

// ReceiveInput describes one received line.
type ReceiveInput struct {
	Key            ItemKey
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ExpirationDate *time.Time
	LotNumber      string
	Ref            Ref
	ActorID        int64
}

// TransferInput moves stock between locations.
type TransferInput struct {
	ProductID    int64
	VariantID    *int64
	FromLocation int64
	ToLocation   int64
	Quantity     decimal.Decimal
	Ref          Ref
	Note         string
	ActorID      int64
}

// LayerDrift reports a stock bucket whose cost layers disagree with its
// stock level. The relationship is advisory, so drift is reported rather
// than failed.
type LayerDrift struct {
	Key           ItemKey
	LevelQuantity decimal.Decimal
	LayerQuantity decimal.Decimal
}

var (
	// ErrInvalidQuantity indicates a zero or negative quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInsufficientStock indicates a transfer larger than available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient available stock")
	// ErrLevelNotFound indicates a missing stock level row.
	ErrLevelNotFound = errors.New("inventory: stock level not found")
	// ErrLayerNotFound indicates a missing cost layer.
	ErrLayerNotFound = errors.New("inventory: cost layer not found")
	// ErrBatchNotExpired rejects write-offs of batches still in date.
	ErrBatchNotExpired = errors.New("inventory: batch is not expired")
	// ErrBatchDepleted rejects write-offs of already-consumed batches.
	ErrBatchDepleted = errors.New("inventory: batch already depleted")
	// ErrSameLocation rejects transfers onto themselves.
	ErrSameLocation = errors.New("inventory: source and destination must differ")
)
