package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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
	ListMovements(ctx context.Context, key ItemKey, limit int) ([]StockMovement, error)
	CheckLayerDrift(ctx context.Context, tolerance decimal.Decimal) ([]LayerDrift, error)
}

// Deliverer attempts ledger delivery of one outbox record. A delivery
// failure never fails the operation that enqueued the record; the re-drive
// job retries later.
type Deliverer interface {
	Deliver(ctx context.Context, outboxID int64)
}

type noopDeliverer struct{}

func (noopDeliverer) Deliver(context.Context, int64) {}

// Service runs stock operations: adjustments, receipts, transfers and the
// variance-producing write-off and cycle-count flows.
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

// AdjustStock applies a free-form signed adjustment and resyncs the variant
// aggregate. No ledger posting: plain adjustments carry no cost.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (StockMovement, error) {
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = ApplyAdjustment(ctx, tx, input)
		return err
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory.adjust", movement.ID, map[string]any{
		"product_id": input.Key.ProductID,
		"delta":      input.Delta.String(),
	})
	return movement, nil
}

// Receive books one received line outside a purchase flow, resolving the
// product's costing method itself.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (StockLevel, CostLayer, error) {
	var (
		level StockLevel
		layer CostLayer
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		method, err := tx.GetCostingMethod(ctx, input.Key.ProductID)
		if err != nil {
			return err
		}
		level, layer, err = ReceiveOne(ctx, tx, input, method, s.now().UTC())
		return err
	})
	if err != nil {
		return StockLevel{}, CostLayer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory.receive", layer.ID, map[string]any{
		"product_id": input.Key.ProductID,
		"quantity":   input.Quantity.String(),
	})
	return level, layer, nil
}

// Transfer moves stock between locations.
func (s *Service) Transfer(ctx context.Context, input TransferInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return TransferStock(ctx, tx, input)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, input.ActorID, "inventory.transfer", input.ProductID, map[string]any{
		"from_location": input.FromLocation,
		"to_location":   input.ToLocation,
		"quantity":      input.Quantity.String(),
	})
	return nil
}

// DamageInput describes a damaged-goods write-off.
type DamageInput struct {
	Key      ItemKey
	Quantity decimal.Decimal
	Note     string
	ActorID  int64
}

// WriteOffDamaged removes damaged stock and books the shrinkage. Phase one
// consumes FIFO layers for valuation, decrements the level and enqueues the
// variance posting; phase two delivers it best-effort.
func (s *Service) WriteOffDamaged(ctx context.Context, input DamageInput) (StockMovement, error) {
	if !input.Quantity.IsPositive() {
		return StockMovement{}, ErrInvalidQuantity
	}
	sourceID := uuid.New()
	var (
		movement StockMovement
		outboxID int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		consumed, err := ConsumeFIFO(ctx, tx, input.Key, input.Quantity)
		if err != nil {
			return err
		}
		unitCost := consumed.UnitCost
		totalCost := consumed.TotalCost
		movement, err = ApplyAdjustment(ctx, tx, AdjustInput{
			Key:       input.Key,
			Delta:     input.Quantity.Neg(),
			Type:      MovementDamaged,
			Ref:       Ref{Type: RefWriteOff, ID: sourceID},
			UnitCost:  &unitCost,
			TotalCost: &totalCost,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		if err != nil {
			return err
		}
		if totalCost.IsZero() {
			return nil
		}
		outboxID, err = enqueueVariance(ctx, tx, "WRITE_OFF", sourceID, s.now().UTC(), input.ActorID,
			fmt.Sprintf("damage write-off product %d", input.Key.ProductID), totalCost.Neg())
		return err
	})
	if err != nil {
		return StockMovement{}, err
	}
	if outboxID != 0 {
		s.deliver.Deliver(ctx, outboxID)
	}
	s.recordAudit(ctx, input.ActorID, "inventory.write_off_damaged", movement.ID, map[string]any{
		"product_id": input.Key.ProductID,
		"quantity":   input.Quantity.String(),
	})
	return movement, nil
}

// WriteOffBatch expires a whole cost layer past its expiration date.
func (s *Service) WriteOffBatch(ctx context.Context, layerID int64, actorID int64) (CostLayer, error) {
	sourceID := uuid.New()
	var (
		layer    CostLayer
		outboxID int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			value decimal.Decimal
			err   error
		)
		layer, value, err = WriteOffLayer(ctx, tx, layerID, s.now().UTC(), actorID, Ref{Type: RefWriteOff, ID: sourceID})
		if err != nil {
			return err
		}
		if value.IsZero() {
			return nil
		}
		outboxID, err = enqueueVariance(ctx, tx, "WRITE_OFF", sourceID, s.now().UTC(), actorID,
			fmt.Sprintf("expired batch %s", layer.LotNumber), value.Neg())
		return err
	})
	if err != nil {
		return CostLayer{}, err
	}
	if outboxID != 0 {
		s.deliver.Deliver(ctx, outboxID)
	}
	s.recordAudit(ctx, actorID, "inventory.write_off_batch", layer.ID, map[string]any{
		"lot_number": layer.LotNumber,
	})
	return layer, nil
}

// CycleCountLine is one counted item.
type CycleCountLine struct {
	Key     ItemKey
	Counted decimal.Decimal
}

// CycleCountInput commits a physical count.
type CycleCountInput struct {
	Lines   []CycleCountLine
	Note    string
	ActorID int64
}

// CycleCountResult summarises a committed count.
type CycleCountResult struct {
	Adjusted int
	NetValue decimal.Decimal
}

// CommitCycleCount reconciles counted quantities against system quantities.
// Shortages consume FIFO layers; overages create a layer at the current cost
// price, so the valuation trail stays coherent. The signed net value is
// booked as a single variance posting.
func (s *Service) CommitCycleCount(ctx context.Context, input CycleCountInput) (CycleCountResult, error) {
	if len(input.Lines) == 0 {
		return CycleCountResult{}, ErrInvalidQuantity
	}
	sourceID := uuid.New()
	var (
		result   CycleCountResult
		outboxID int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range input.Lines {
			if line.Counted.IsNegative() {
				return ErrInvalidQuantity
			}
			level, err := tx.GetLevelForUpdate(ctx, line.Key)
			if err != nil && !isLevelNotFound(err) {
				return err
			}
			delta := line.Counted.Sub(level.Quantity)
			if delta.IsZero() {
				continue
			}
			value, err := s.countLineValue(ctx, tx, line.Key, delta)
			if err != nil {
				return err
			}
			unitCost := value.Abs().DivRound(delta.Abs(), 4)
			totalCost := value.Abs()
			if _, err := ApplyAdjustment(ctx, tx, AdjustInput{
				Key:       line.Key,
				Delta:     delta,
				Type:      MovementCycleCount,
				Ref:       Ref{Type: RefCycleCount, ID: sourceID},
				UnitCost:  &unitCost,
				TotalCost: &totalCost,
				Note:      input.Note,
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			result.Adjusted++
			result.NetValue = result.NetValue.Add(value)
		}
		if result.NetValue.IsZero() {
			return nil
		}
		var err error
		outboxID, err = enqueueVariance(ctx, tx, "CYCLE_COUNT", sourceID, s.now().UTC(), input.ActorID,
			"cycle count variance", result.NetValue)
		return err
	})
	if err != nil {
		return CycleCountResult{}, err
	}
	if outboxID != 0 {
		s.deliver.Deliver(ctx, outboxID)
	}
	s.recordAudit(ctx, input.ActorID, "inventory.cycle_count", int64(result.Adjusted), map[string]any{
		"net_value": result.NetValue.String(),
	})
	return result, nil
}

// countLineValue values a count delta: shortages at the FIFO cost actually
// consumed, overages at the current cost price with a matching layer.
func (s *Service) countLineValue(ctx context.Context, tx TxRepository, key ItemKey, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsNegative() {
		consumed, err := ConsumeFIFO(ctx, tx, key, delta.Neg())
		if err != nil {
			return decimal.Decimal{}, err
		}
		return consumed.TotalCost.Neg(), nil
	}
	_, cost, err := tx.GetCostBasis(ctx, key.ProductID, key.VariantID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	layer := CostLayer{
		Key:               key,
		OriginalQuantity:  delta,
		RemainingQuantity: delta,
		UnitCost:          cost,
		ReceivedAt:        s.now().UTC(),
	}
	if _, err := tx.InsertCostLayer(ctx, layer); err != nil {
		return decimal.Decimal{}, err
	}
	return delta.Mul(cost), nil
}

// ReconcileLayers reports stock buckets whose open cost layers disagree with
// the stock level beyond the tolerance. Advisory only.
func (s *Service) ReconcileLayers(ctx context.Context, tolerance decimal.Decimal) ([]LayerDrift, error) {
	return s.repo.CheckLayerDrift(ctx, tolerance)
}

// Movements returns the audit trail for one item, newest first.
func (s *Service) Movements(ctx context.Context, key ItemKey, limit int) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, key, limit)
}

func enqueueVariance(ctx context.Context, tx TxRepository, sourceType string, sourceID uuid.UUID, at time.Time, actorID int64, memo string, value decimal.Decimal) (int64, error) {
	payload, err := json.Marshal(outbox.VariancePayload{
		SourceID: sourceID,
		Date:     at,
		Memo:     memo,
		ActorID:  actorID,
		Value:    value,
	})
	if err != nil {
		return 0, err
	}
	return tx.Outbox().Enqueue(ctx, outbox.Record{
		Kind:       outbox.KindVariance,
		SourceType: sourceType,
		SourceID:   sourceID,
		Payload:    payload,
	})
}

func isLevelNotFound(err error) bool {
	return errors.Is(err, ErrLevelNotFound)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
