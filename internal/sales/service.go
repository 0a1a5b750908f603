package sales

import (
	"context"
	"encoding/json"
	"errors"
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

// IdempotencyPort guards retried requests. A nil port disables the check.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Deliverer attempts ledger delivery of one outbox record after the
// operational transaction commits. Failures are the deliverer's problem;
// the sale has already happened.
type Deliverer interface {
	Deliver(ctx context.Context, outboxID int64)
}

type noopDeliverer struct{}

func (noopDeliverer) Deliver(context.Context, int64) {}

// Service records sales, returns and due collections.
type Service struct {
	repo    RepositoryPort
	idem    IdempotencyPort
	audit   AuditPort
	deliver Deliverer
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, audit AuditPort) *Service {
	return &Service{repo: repo, idem: idem, audit: audit, deliver: noopDeliverer{}, now: time.Now}
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

type saleTotals struct {
	Subtotal decimal.Decimal
	Taxable  decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

func computeTotals(lines []SaleLineInput, discount, taxRate decimal.Decimal) (saleTotals, error) {
	subtotal := decimal.Zero
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return saleTotals{}, ErrInvalidQuantity
		}
		if line.UnitPrice.IsNegative() {
			return saleTotals{}, ErrInvalidAmount
		}
		subtotal = subtotal.Add(line.Quantity.Mul(line.UnitPrice))
	}
	if discount.IsNegative() || taxRate.IsNegative() {
		return saleTotals{}, ErrInvalidAmount
	}
	taxable := subtotal.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax := taxable.Mul(taxRate).Round(2)
	return saleTotals{
		Subtotal: subtotal,
		Taxable:  taxable,
		Tax:      tax,
		Total:    taxable.Add(tax),
	}, nil
}

// RecordSale runs the sale's atomic core: totals, tender validation and
// debits, loyalty, per-line stock decrement with FIFO cost capture, shift
// and customer aggregates, and the posting enqueue. The ledger posting
// itself happens after commit and cannot fail the sale.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (Sale, error) {
	if len(input.Lines) == 0 {
		return Sale{}, ErrNoLines
	}
	if len(input.Payments) == 0 {
		return Sale{}, ErrNoPayments
	}
	totals, err := computeTotals(input.Lines, input.Discount, input.TaxRate)
	if err != nil {
		return Sale{}, err
	}
	paid := decimal.Zero
	for _, payment := range input.Payments {
		if !payment.Amount.IsPositive() {
			return Sale{}, ErrInvalidAmount
		}
		if payment.Method != PayCash && payment.Method != PayGiftCard && payment.Method != PayStoreCredit && payment.Method != PayOnAccount {
			return Sale{}, fmt.Errorf("sales: unknown payment method %q", payment.Method)
		}
		paid = paid.Add(payment.Amount)
	}
	if !paid.Round(2).Equal(totals.Total.Round(2)) {
		return Sale{}, ErrPaymentMismatch
	}
	if needsCustomer(input) && input.CustomerID == nil {
		return Sale{}, ErrCustomerRequired
	}

	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "sales"); err != nil {
			return Sale{}, ErrDuplicateRequest
		}
	}

	sale := Sale{
		ID:             uuid.New(),
		CustomerID:     input.CustomerID,
		ShiftID:        input.ShiftID,
		Status:         SaleCompleted,
		Subtotal:       totals.Subtotal,
		Discount:       input.Discount,
		TaxRate:        input.TaxRate,
		TaxAmount:      totals.Tax,
		Total:          totals.Total,
		PointsRedeemed: input.RedeemPoints,
		CreatedBy:      input.ActorID,
	}

	var (
		saleOutboxID int64
		cogsOutboxID int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var customer *Customer
		if input.CustomerID != nil {
			c, err := tx.GetCustomerForUpdate(ctx, *input.CustomerID)
			if err != nil {
				return err
			}
			customer = &c
		}
		if input.RedeemPoints > 0 {
			if customer == nil {
				return ErrCustomerRequired
			}
			if customer.LoyaltyPoints < input.RedeemPoints {
				return ErrInsufficientPoints
			}
			customer.LoyaltyPoints -= input.RedeemPoints
			customer.StoreCredit = customer.StoreCredit.Add(decimal.NewFromInt(input.RedeemPoints).Mul(pointValue))
		}

		cash, onAccount, storeCredit, giftCard, err := s.applyPayments(ctx, tx, customer, input.Payments)
		if err != nil {
			return err
		}

		inv := tx.Inventory()
		for _, line := range input.Lines {
			key := inventory.ItemKey{ProductID: line.ProductID, VariantID: line.VariantID, LocationID: line.LocationID}
			level, err := inv.GetLevelForUpdate(ctx, key)
			if err != nil && !errors.Is(err, inventory.ErrLevelNotFound) {
				return err
			}
			if level.Available().LessThan(line.Quantity) {
				return fmt.Errorf("%w: product %d", ErrInsufficientStock, line.ProductID)
			}
			consumed, err := inventory.ConsumeFIFO(ctx, inv, key, line.Quantity)
			if err != nil {
				return err
			}
			unitCost := consumed.UnitCost
			totalCost := consumed.TotalCost
			if _, err := inventory.ApplyAdjustment(ctx, inv, inventory.AdjustInput{
				Key:       key,
				Delta:     line.Quantity.Neg(),
				Type:      inventory.MovementSale,
				Ref:       inventory.Ref{Type: inventory.RefSale, ID: sale.ID},
				UnitCost:  &unitCost,
				TotalCost: &totalCost,
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			sale.CostTotal = sale.CostTotal.Add(consumed.TotalCost)
			saleLine := SaleLine{
				SaleID:     sale.ID,
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				LocationID: line.LocationID,
				Quantity:   line.Quantity,
				UnitPrice:  line.UnitPrice,
				LineTotal:  line.Quantity.Mul(line.UnitPrice),
				UnitCost:   consumed.UnitCost,
			}
			if _, err := tx.InsertSaleLine(ctx, saleLine); err != nil {
				return err
			}
		}

		if customer != nil {
			sale.PointsEarned = totals.Total.Div(spendAccrualUnit).Floor().IntPart()
			customer.LoyaltyPoints += sale.PointsEarned
			customer.TotalSpent = customer.TotalSpent.Add(totals.Total)
			customer.VisitCount++
			if err := tx.UpdateCustomerBalances(ctx, *customer); err != nil {
				return err
			}
		}
		if input.ShiftID != nil {
			if err := tx.AddShiftTotals(ctx, *input.ShiftID, cash, totals.Total); err != nil {
				return err
			}
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for _, payment := range input.Payments {
			if err := tx.InsertSalePayment(ctx, SalePayment{
				SaleID:       sale.ID,
				Method:       payment.Method,
				Amount:       payment.Amount,
				GiftCardCode: payment.GiftCardCode,
			}); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		saleOutboxID, err = enqueuePayload(ctx, tx.Outbox(), outbox.KindSale, "SALE", sale.ID, outbox.SalePayload{
			SaleID:      sale.ID,
			Date:        now,
			Memo:        fmt.Sprintf("sale %s", sale.ID),
			ActorID:     input.ActorID,
			Cash:        cash,
			OnAccount:   onAccount,
			StoreCredit: storeCredit,
			GiftCard:    giftCard,
			Revenue:     totals.Taxable,
			Tax:         totals.Tax,
		})
		if err != nil {
			return err
		}
		if sale.CostTotal.IsPositive() {
			cogsOutboxID, err = enqueuePayload(ctx, tx.Outbox(), outbox.KindSaleCOGS, "SALE_COGS", sale.ID, outbox.SaleCOGSPayload{
				SaleID:  sale.ID,
				Date:    now,
				Memo:    fmt.Sprintf("cogs for sale %s", sale.ID),
				ActorID: input.ActorID,
				Cost:    sale.CostTotal,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, input.IdempotencyKey)
		}
		return Sale{}, err
	}

	s.deliver.Deliver(ctx, saleOutboxID)
	if cogsOutboxID != 0 {
		s.deliver.Deliver(ctx, cogsOutboxID)
	}
	s.recordAudit(ctx, input.ActorID, "sales.record", sale.ID.String(), map[string]any{
		"total": sale.Total.String(),
		"lines": len(input.Lines),
	})
	return sale, nil
}

func needsCustomer(input SaleInput) bool {
	if input.RedeemPoints > 0 {
		return true
	}
	for _, payment := range input.Payments {
		if payment.Method == PayStoreCredit || payment.Method == PayOnAccount {
			return true
		}
	}
	return false
}

// applyPayments validates and debits each tender, returning the per-method
// totals for the posting template.
func (s *Service) applyPayments(ctx context.Context, tx TxRepository, customer *Customer, payments []PaymentInput) (cash, onAccount, storeCredit, giftCard decimal.Decimal, err error) {
	for _, payment := range payments {
		switch payment.Method {
		case PayCash:
			cash = cash.Add(payment.Amount)
		case PayGiftCard:
			card, err := tx.GetGiftCardForUpdate(ctx, payment.GiftCardCode)
			if err != nil {
				return cash, onAccount, storeCredit, giftCard, err
			}
			if !card.IsActive {
				return cash, onAccount, storeCredit, giftCard, ErrGiftCardInactive
			}
			if card.Balance.LessThan(payment.Amount) {
				return cash, onAccount, storeCredit, giftCard, ErrInsufficientGiftCard
			}
			if err := tx.AddGiftCardBalance(ctx, card.ID, payment.Amount.Neg()); err != nil {
				return cash, onAccount, storeCredit, giftCard, err
			}
			giftCard = giftCard.Add(payment.Amount)
		case PayStoreCredit:
			if customer.StoreCredit.LessThan(payment.Amount) {
				return cash, onAccount, storeCredit, giftCard, ErrInsufficientStoreCredit
			}
			customer.StoreCredit = customer.StoreCredit.Sub(payment.Amount)
			storeCredit = storeCredit.Add(payment.Amount)
		case PayOnAccount:
			next := customer.DueBalance.Add(payment.Amount)
			if customer.CreditLimit.IsPositive() && next.GreaterThan(customer.CreditLimit) {
				return cash, onAccount, storeCredit, giftCard, ErrCreditLimitExceeded
			}
			customer.DueBalance = next
			onAccount = onAccount.Add(payment.Amount)
		}
	}
	return cash, onAccount, storeCredit, giftCard, nil
}

// RecordReturn restocks returned lines at their captured sale cost and
// refunds revenue and tax proportionally to the returned share.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) (Return, error) {
	if len(input.Lines) == 0 {
		return Return{}, ErrNoLines
	}
	ret := Return{ID: uuid.New(), SaleID: input.SaleID, CreatedBy: input.ActorID}
	var (
		returnOutboxID int64
		cogsOutboxID   int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		saleLines, err := tx.ListSaleLines(ctx, input.SaleID)
		if err != nil {
			return err
		}
		byID := make(map[int64]SaleLine, len(saleLines))
		for _, line := range saleLines {
			byID[line.ID] = line
		}

		inv := tx.Inventory()
		returned := make(map[int64]decimal.Decimal, len(input.Lines))
		for _, line := range input.Lines {
			if !line.Quantity.IsPositive() {
				return ErrInvalidQuantity
			}
			sold, ok := byID[line.SaleLineID]
			if !ok {
				return ErrLineNotFound
			}
			remaining := sold.Quantity.Sub(sold.ReturnedQuantity).Sub(returned[line.SaleLineID])
			if line.Quantity.GreaterThan(remaining) {
				return ErrReturnExceedsSold
			}
			returned[line.SaleLineID] = returned[line.SaleLineID].Add(line.Quantity)

			if err := tx.AddLineReturnedQuantity(ctx, line.SaleLineID, line.Quantity); err != nil {
				return err
			}
			key := inventory.ItemKey{ProductID: sold.ProductID, VariantID: sold.VariantID, LocationID: sold.LocationID}
			lineCost := line.Quantity.Mul(sold.UnitCost)
			if sold.UnitCost.IsPositive() {
				// Restock at the cost the goods left with so a
				// re-sale consumes the same basis.
				if _, err := inv.InsertCostLayer(ctx, inventory.CostLayer{
					Key:               key,
					OriginalQuantity:  line.Quantity,
					RemainingQuantity: line.Quantity,
					UnitCost:          sold.UnitCost,
					ReceivedAt:        s.now().UTC(),
				}); err != nil {
					return err
				}
			}
			unitCost := sold.UnitCost
			if _, err := inventory.ApplyAdjustment(ctx, inv, inventory.AdjustInput{
				Key:       key,
				Delta:     line.Quantity,
				Type:      inventory.MovementReturn,
				Ref:       inventory.Ref{Type: inventory.RefReturn, ID: ret.ID},
				UnitCost:  &unitCost,
				TotalCost: &lineCost,
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			ret.RefundSubtotal = ret.RefundSubtotal.Add(line.Quantity.Mul(sold.UnitPrice))
			ret.CostTotal = ret.CostTotal.Add(lineCost)
		}

		// Sale-level discount refunds proportionally to the returned
		// share of the subtotal.
		taxableRefund := ret.RefundSubtotal
		if sale.Discount.IsPositive() && sale.Subtotal.IsPositive() {
			share := ret.RefundSubtotal.Div(sale.Subtotal)
			taxableRefund = ret.RefundSubtotal.Sub(sale.Discount.Mul(share)).Round(2)
		}
		ret.RefundTax = taxableRefund.Mul(sale.TaxRate).Round(2)
		ret.RefundTotal = taxableRefund.Add(ret.RefundTax)

		if sale.CustomerID != nil {
			customer, err := tx.GetCustomerForUpdate(ctx, *sale.CustomerID)
			if err != nil {
				return err
			}
			customer.TotalSpent = customer.TotalSpent.Sub(ret.RefundTotal)
			if err := tx.UpdateCustomerBalances(ctx, customer); err != nil {
				return err
			}
		}

		if err := tx.InsertReturn(ctx, ret); err != nil {
			return err
		}
		for _, line := range input.Lines {
			if _, err := tx.InsertReturnLine(ctx, ReturnLine{ReturnID: ret.ID, SaleLineID: line.SaleLineID, Quantity: line.Quantity}); err != nil {
				return err
			}
		}
		if fullyReturned(saleLines, returned) {
			if err := tx.MarkSaleReturned(ctx, input.SaleID); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		returnOutboxID, err = enqueuePayload(ctx, tx.Outbox(), outbox.KindReturn, "RETURN", ret.ID, outbox.ReturnPayload{
			ReturnID: ret.ID,
			SaleID:   sale.ID,
			Date:     now,
			Memo:     fmt.Sprintf("return against sale %s", sale.ID),
			ActorID:  input.ActorID,
			Revenue:  taxableRefund,
			Tax:      ret.RefundTax,
		})
		if err != nil {
			return err
		}
		if ret.CostTotal.IsPositive() {
			cogsOutboxID, err = enqueuePayload(ctx, tx.Outbox(), outbox.KindReturnCOGS, "RETURN", ret.ID, outbox.ReturnCOGSPayload{
				ReturnID: ret.ID,
				Date:     now,
				Memo:     fmt.Sprintf("cogs reversal for return %s", ret.ID),
				ActorID:  input.ActorID,
				Cost:     ret.CostTotal,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	s.deliver.Deliver(ctx, returnOutboxID)
	if cogsOutboxID != 0 {
		s.deliver.Deliver(ctx, cogsOutboxID)
	}
	s.recordAudit(ctx, input.ActorID, "sales.return", ret.ID.String(), map[string]any{
		"sale_id": input.SaleID.String(),
		"refund":  ret.RefundTotal.String(),
	})
	return ret, nil
}

func fullyReturned(lines []SaleLine, returned map[int64]decimal.Decimal) bool {
	for _, line := range lines {
		total := line.ReturnedQuantity.Add(returned[line.ID])
		if total.LessThan(line.Quantity) {
			return false
		}
	}
	return true
}

// CollectDue settles part of a customer's outstanding balance. The
// collection row carries the journal entry id once posting succeeds, which
// is what the void cascade later keys on.
func (s *Service) CollectDue(ctx context.Context, input CollectDueInput) (DueCollection, error) {
	if !input.Amount.IsPositive() {
		return DueCollection{}, ErrInvalidAmount
	}
	if input.Method != PayCash && input.Method != PayStoreCredit {
		return DueCollection{}, fmt.Errorf("sales: unsupported collection method %q", input.Method)
	}
	collection := DueCollection{
		ID:         uuid.New(),
		CustomerID: input.CustomerID,
		Amount:     input.Amount,
		Method:     input.Method,
		Status:     DueActive,
		CreatedBy:  input.ActorID,
	}
	var outboxID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetCustomerForUpdate(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(customer.DueBalance) {
			return ErrExceedsDueBalance
		}
		customer.DueBalance = customer.DueBalance.Sub(input.Amount)
		if input.Method == PayStoreCredit {
			if customer.StoreCredit.LessThan(input.Amount) {
				return ErrInsufficientStoreCredit
			}
			customer.StoreCredit = customer.StoreCredit.Sub(input.Amount)
		}
		if err := tx.UpdateCustomerBalances(ctx, customer); err != nil {
			return err
		}
		if err := tx.InsertDueCollection(ctx, collection); err != nil {
			return err
		}
		outboxID, err = enqueuePayload(ctx, tx.Outbox(), outbox.KindDueCollection, "DUE_COLLECTION", collection.ID, outbox.DueCollectionPayload{
			CollectionID: collection.ID,
			Date:         s.now().UTC(),
			Memo:         fmt.Sprintf("due collection from customer %d", input.CustomerID),
			ActorID:      input.ActorID,
			Method:       string(input.Method),
			Amount:       input.Amount,
		})
		return err
	})
	if err != nil {
		return DueCollection{}, err
	}

	s.deliver.Deliver(ctx, outboxID)
	s.recordAudit(ctx, input.ActorID, "sales.collect_due", collection.ID.String(), map[string]any{
		"customer_id": input.CustomerID,
		"amount":      input.Amount.String(),
	})
	return collection, nil
}

func enqueuePayload(ctx context.Context, queue outbox.Queue, kind outbox.Kind, sourceType string, sourceID uuid.UUID, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return queue.Enqueue(ctx, outbox.Record{
		Kind:       kind,
		SourceType: sourceType,
		SourceID:   sourceID,
		Payload:    raw,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
