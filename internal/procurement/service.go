package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Deliverer attempts ledger delivery of one outbox record after commit.
type Deliverer interface {
	Deliver(ctx context.Context, outboxID int64)
}

type noopDeliverer struct{}

func (noopDeliverer) Deliver(context.Context, int64) {}

// Service receives and pays purchase orders.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	deliver Deliverer
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, deliver: noopDeliverer{}, now: time.Now}
}

// WithDeliverer installs the ledger delivery hook for phase-two postings.
func (s *Service) WithDeliverer(d Deliverer) {
	if d != nil {
		s.deliver = d
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ReceivePurchase books a delivery: validates the supplier and order state,
// receives each line into stock with a fresh cost layer, advances the order
// and enqueues the inventory-vs-payable posting.
func (s *Service) ReceivePurchase(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	if input.Freight.IsNegative() {
		return PurchaseOrder{}, ErrInvalidAmount
	}
	for _, line := range input.Lines {
		if !line.Quantity.IsPositive() {
			return PurchaseOrder{}, ErrInvalidQuantity
		}
		if line.UnitCost.IsNegative() {
			return PurchaseOrder{}, ErrInvalidAmount
		}
	}

	var (
		order    PurchaseOrder
		outboxID int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if order.Status != POOpen && order.Status != POPartiallyReceived {
			return ErrOrderClosed
		}
		supplier, err := tx.GetSupplier(ctx, order.SupplierID)
		if err != nil {
			return err
		}
		if !supplier.IsActive {
			return ErrSupplierInactive
		}
		lines, err := tx.ListOrderLines(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		byID := make(map[int64]POLine, len(lines))
		for _, line := range lines {
			byID[line.ID] = line
		}

		inv := tx.Inventory()
		received := make(map[int64]decimal.Decimal, len(input.Lines))
		inventoryValue := decimal.Zero
		receivedAt := s.now().UTC()
		for _, line := range input.Lines {
			ordered, ok := byID[line.POLineID]
			if !ok {
				return ErrLineNotFound
			}
			open := ordered.OrderedQuantity.Sub(ordered.ReceivedQuantity).Sub(received[line.POLineID])
			if line.Quantity.GreaterThan(open) {
				return ErrReceiveExceedsOpen
			}
			received[line.POLineID] = received[line.POLineID].Add(line.Quantity)

			unitCost := line.UnitCost
			if unitCost.IsZero() {
				unitCost = ordered.UnitCost
			}
			key := inventory.ItemKey{ProductID: ordered.ProductID, VariantID: ordered.VariantID, LocationID: ordered.LocationID}
			method, err := inv.GetCostingMethod(ctx, ordered.ProductID)
			if err != nil {
				return err
			}
			if _, _, err := inventory.ReceiveOne(ctx, inv, inventory.ReceiveInput{
				Key:            key,
				Quantity:       line.Quantity,
				UnitCost:       unitCost,
				ExpirationDate: line.ExpirationDate,
				LotNumber:      line.LotNumber,
				Ref:            inventory.Ref{Type: inventory.RefPurchaseOrder, ID: order.ID},
				ActorID:        input.ActorID,
			}, method, receivedAt); err != nil {
				return err
			}
			if err := tx.AddLineReceivedQuantity(ctx, line.POLineID, line.Quantity); err != nil {
				return err
			}
			inventoryValue = inventoryValue.Add(line.Quantity.Mul(unitCost))
		}

		order.Status = POPartiallyReceived
		if allReceived(lines, received) {
			order.Status = POReceived
		}
		order.Freight = order.Freight.Add(input.Freight)
		order.Total = order.Total.Add(inventoryValue).Add(input.Freight)
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AddSupplierBalance(ctx, order.SupplierID, inventoryValue.Add(input.Freight)); err != nil {
			return err
		}

		payload, err := json.Marshal(outbox.PurchaseReceiptPayload{
			PurchaseOrderID: order.ID,
			Date:            receivedAt,
			Memo:            fmt.Sprintf("receipt for purchase order %s", order.ID),
			ActorID:         input.ActorID,
			InventoryValue:  inventoryValue,
			Freight:         input.Freight,
		})
		if err != nil {
			return err
		}
		outboxID, err = tx.Outbox().Enqueue(ctx, outbox.Record{
			Kind:       outbox.KindPurchaseReceipt,
			SourceType: "PURCHASE_ORDER",
			SourceID:   order.ID,
			Payload:    payload,
		})
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	s.deliver.Deliver(ctx, outboxID)
	s.recordAudit(ctx, input.ActorID, "procurement.receive", order.ID.String(), map[string]any{
		"lines": len(input.Lines),
	})
	return order, nil
}

func allReceived(lines []POLine, received map[int64]decimal.Decimal) bool {
	for _, line := range lines {
		total := line.ReceivedQuantity.Add(received[line.ID])
		if total.LessThan(line.OrderedQuantity) {
			return false
		}
	}
	return true
}

// PayPurchase settles part of an order's outstanding balance and enqueues
// the payable-vs-cash posting.
func (s *Service) PayPurchase(ctx context.Context, input PayInput) (PurchasePayment, error) {
	if !input.Amount.IsPositive() {
		return PurchasePayment{}, ErrInvalidAmount
	}
	payment := PurchasePayment{
		ID:              uuid.New(),
		PurchaseOrderID: input.PurchaseOrderID,
		Amount:          input.Amount,
		CreatedBy:       input.ActorID,
	}
	var outboxID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		outstanding := order.Total.Sub(order.PaidTotal)
		if input.Amount.GreaterThan(outstanding) {
			return ErrOverpayment
		}
		order.PaidTotal = order.PaidTotal.Add(input.Amount)
		if order.PaidTotal.Equal(order.Total) && order.Status == POReceived {
			order.Status = POPaid
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AddSupplierBalance(ctx, order.SupplierID, input.Amount.Neg()); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		payload, err := json.Marshal(outbox.PurchasePaymentPayload{
			PurchaseOrderID: order.ID,
			Date:            s.now().UTC(),
			Memo:            fmt.Sprintf("payment for purchase order %s", order.ID),
			ActorID:         input.ActorID,
			Amount:          input.Amount,
		})
		if err != nil {
			return err
		}
		outboxID, err = tx.Outbox().Enqueue(ctx, outbox.Record{
			Kind:       outbox.KindPurchasePayment,
			SourceType: "PURCHASE_PAYMENT",
			SourceID:   payment.ID,
			Payload:    payload,
		})
		return err
	})
	if err != nil {
		return PurchasePayment{}, err
	}

	s.deliver.Deliver(ctx, outboxID)
	s.recordAudit(ctx, input.ActorID, "procurement.pay", payment.ID.String(), map[string]any{
		"purchase_order_id": input.PurchaseOrderID.String(),
		"amount":            input.Amount.String(),
	})
	return payment, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "procurement",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
