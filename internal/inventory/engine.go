package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// The engine functions below run against a TxRepository so orchestrators can
// fold stock mutations into their own phase-one transaction. Each one locks
// the affected rows before read-modify-write; concurrent operations on the
// same item key serialise on the row lock.

// ApplyAdjustment moves a stock level by a signed delta, clamping the result
// at zero, and appends the audit movement. Used for free-form adjustments,
// sale decrements, return restocks and cycle-count corrections.
func ApplyAdjustment(ctx context.Context, tx TxRepository, input AdjustInput) (StockMovement, error) {
	if input.Delta.IsZero() {
		return StockMovement{}, ErrInvalidQuantity
	}
	if input.Type == "" {
		input.Type = MovementAdjustment
	}
	level, err := tx.GetLevelForUpdate(ctx, input.Key)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return StockMovement{}, err
	}
	previous := level.Quantity
	next := previous.Add(input.Delta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	level.Quantity = next
	level.Key = input.Key
	if _, err := tx.UpsertLevel(ctx, level); err != nil {
		return StockMovement{}, err
	}
	movement := StockMovement{
		Key:              input.Key,
		Type:             input.Type,
		Quantity:         next.Sub(previous),
		PreviousQuantity: previous,
		NewQuantity:      next,
		Ref:              input.Ref,
		UnitCost:         input.UnitCost,
		TotalCost:        input.TotalCost,
		Note:             input.Note,
		CreatedBy:        input.ActorID,
	}
	movement.ID, err = tx.InsertMovement(ctx, movement)
	if err != nil {
		return StockMovement{}, err
	}
	if err := resyncVariant(ctx, tx, input.Key); err != nil {
		return StockMovement{}, err
	}
	return movement, nil
}

// ReceiveOne books a received line: the stock level grows, a cost layer is
// always created (batch and expiry tracking is unconditional) and the
// displayed cost price is updated per the costing method.
func ReceiveOne(ctx context.Context, tx TxRepository, input ReceiveInput, method CostingMethod, receivedAt time.Time) (StockLevel, CostLayer, error) {
	if !input.Quantity.IsPositive() {
		return StockLevel{}, CostLayer{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return StockLevel{}, CostLayer{}, ErrInvalidUnitCost
	}

	level, err := tx.GetLevelForUpdate(ctx, input.Key)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return StockLevel{}, CostLayer{}, err
	}

	// Cost basis is read under the level lock, before the level mutation, so
	// the weighted average mixes the pre-receipt quantity with the received
	// lot.
	onHand, oldCost, err := tx.GetCostBasis(ctx, input.Key.ProductID, input.Key.VariantID)
	if err != nil {
		return StockLevel{}, CostLayer{}, err
	}
	previous := level.Quantity
	level.Key = input.Key
	level.Quantity = previous.Add(input.Quantity)
	level, err = tx.UpsertLevel(ctx, level)
	if err != nil {
		return StockLevel{}, CostLayer{}, err
	}

	layer := CostLayer{
		Key:               input.Key,
		OriginalQuantity:  input.Quantity,
		RemainingQuantity: input.Quantity,
		UnitCost:          input.UnitCost,
		ReceivedAt:        receivedAt,
		ExpirationDate:    input.ExpirationDate,
		LotNumber:         input.LotNumber,
	}
	layer.ID, err = tx.InsertCostLayer(ctx, layer)
	if err != nil {
		return StockLevel{}, CostLayer{}, err
	}

	unitCost := input.UnitCost
	totalCost := input.Quantity.Mul(input.UnitCost)
	movement := StockMovement{
		Key:              input.Key,
		Type:             MovementPurchase,
		Quantity:         input.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      level.Quantity,
		Ref:              input.Ref,
		UnitCost:         &unitCost,
		TotalCost:        &totalCost,
		CreatedBy:        input.ActorID,
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return StockLevel{}, CostLayer{}, err
	}

	if err := applyCostingMethod(ctx, tx, input, method, onHand, oldCost); err != nil {
		return StockLevel{}, CostLayer{}, err
	}
	if err := resyncVariant(ctx, tx, input.Key); err != nil {
		return StockLevel{}, CostLayer{}, err
	}
	return level, layer, nil
}

func applyCostingMethod(ctx context.Context, tx TxRepository, input ReceiveInput, method CostingMethod, onHand, oldCost decimal.Decimal) error {
	switch method {
	case CostingNone, "":
		return nil
	case CostingLastCost:
		return tx.SetCostPrice(ctx, input.Key.ProductID, input.Key.VariantID, input.UnitCost)
	case CostingWeightedAverage:
		totalQty := onHand.Add(input.Quantity)
		if !totalQty.IsPositive() {
			return tx.SetCostPrice(ctx, input.Key.ProductID, input.Key.VariantID, input.UnitCost)
		}
		totalValue := onHand.Mul(oldCost).Add(input.Quantity.Mul(input.UnitCost))
		return tx.SetCostPrice(ctx, input.Key.ProductID, input.Key.VariantID, totalValue.DivRound(totalQty, 4))
	case CostingFIFO:
		layers, err := tx.ListOpenLayersForUpdate(ctx, input.Key)
		if err != nil {
			return err
		}
		if len(layers) == 0 {
			return nil
		}
		return tx.SetCostPrice(ctx, input.Key.ProductID, input.Key.VariantID, layers[0].UnitCost)
	default:
		return nil
	}
}

// ConsumeFIFO walks cost layers oldest-received-first, consuming until the
// requested quantity is covered, and values the consumption at the weighted
// average of what was actually taken. Valuation is advisory: when no layers
// exist the result is zero-cost, never an error, so the physical movement is
// not blocked.
func ConsumeFIFO(ctx context.Context, tx TxRepository, key ItemKey, quantity decimal.Decimal) (ConsumeResult, error) {
	if !quantity.IsPositive() {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	layers, err := tx.ListOpenLayersForUpdate(ctx, key)
	if err != nil {
		return ConsumeResult{}, err
	}
	result := ConsumeResult{}
	needed := quantity
	for _, layer := range layers {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(layer.RemainingQuantity, needed)
		remaining := layer.RemainingQuantity.Sub(take)
		if err := tx.SetLayerRemaining(ctx, layer.ID, remaining); err != nil {
			return ConsumeResult{}, err
		}
		result.Consumed = append(result.Consumed, ConsumedLayer{LayerID: layer.ID, Quantity: take, UnitCost: layer.UnitCost})
		result.Quantity = result.Quantity.Add(take)
		result.TotalCost = result.TotalCost.Add(take.Mul(layer.UnitCost))
		needed = needed.Sub(take)
	}
	if result.Quantity.IsPositive() {
		result.UnitCost = result.TotalCost.DivRound(result.Quantity, 4)
	}
	return result, nil
}

// TransferStock moves quantity between two locations atomically. Transfers
// fail on insufficient availability instead of clamping, and the cost basis
// travels with the goods: open layers at the source are re-homed to the
// destination rather than consumed.
func TransferStock(ctx context.Context, tx TxRepository, input TransferInput) error {
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.FromLocation == input.ToLocation {
		return ErrSameLocation
	}
	srcKey := ItemKey{ProductID: input.ProductID, VariantID: input.VariantID, LocationID: &input.FromLocation}
	dstKey := ItemKey{ProductID: input.ProductID, VariantID: input.VariantID, LocationID: &input.ToLocation}

	source, err := tx.GetLevelForUpdate(ctx, srcKey)
	if err != nil {
		if errors.Is(err, ErrLevelNotFound) {
			return ErrInsufficientStock
		}
		return err
	}
	if input.Quantity.GreaterThan(source.Available()) {
		return ErrInsufficientStock
	}
	dest, err := tx.GetLevelForUpdate(ctx, dstKey)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return err
	}
	dest.Key = dstKey

	srcPrev := source.Quantity
	source.Quantity = source.Quantity.Sub(input.Quantity)
	if _, err := tx.UpsertLevel(ctx, source); err != nil {
		return err
	}
	dstPrev := dest.Quantity
	dest.Quantity = dest.Quantity.Add(input.Quantity)
	if _, err := tx.UpsertLevel(ctx, dest); err != nil {
		return err
	}

	out := StockMovement{
		Key:              srcKey,
		Type:             MovementTransfer,
		Quantity:         input.Quantity.Neg(),
		PreviousQuantity: srcPrev,
		NewQuantity:      source.Quantity,
		Ref:              input.Ref,
		Note:             input.Note,
		CreatedBy:        input.ActorID,
	}
	if _, err := tx.InsertMovement(ctx, out); err != nil {
		return err
	}
	in := StockMovement{
		Key:              dstKey,
		Type:             MovementTransfer,
		Quantity:         input.Quantity,
		PreviousQuantity: dstPrev,
		NewQuantity:      dest.Quantity,
		Ref:              input.Ref,
		Note:             input.Note,
		CreatedBy:        input.ActorID,
	}
	if _, err := tx.InsertMovement(ctx, in); err != nil {
		return err
	}
	return tx.RehomeLayers(ctx, input.ProductID, input.VariantID, input.FromLocation, input.ToLocation)
}

// WriteOffLayer expires a whole batch: the layer is zeroed, stock drops by
// its remaining quantity and the movement is valued at the layer's unit
// cost. Returns the written-off quantity and its valuation.
func WriteOffLayer(ctx context.Context, tx TxRepository, layerID int64, now time.Time, actorID int64, ref Ref) (CostLayer, decimal.Decimal, error) {
	layer, err := tx.GetLayerForUpdate(ctx, layerID)
	if err != nil {
		return CostLayer{}, decimal.Decimal{}, err
	}
	if layer.ExpirationDate == nil || layer.ExpirationDate.After(now) {
		return CostLayer{}, decimal.Decimal{}, ErrBatchNotExpired
	}
	if layer.Depleted() {
		return CostLayer{}, decimal.Decimal{}, ErrBatchDepleted
	}
	quantity := layer.RemainingQuantity
	if err := tx.SetLayerRemaining(ctx, layer.ID, decimal.Zero); err != nil {
		return CostLayer{}, decimal.Decimal{}, err
	}

	level, err := tx.GetLevelForUpdate(ctx, layer.Key)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return CostLayer{}, decimal.Decimal{}, err
	}
	previous := level.Quantity
	next := previous.Sub(quantity)
	if next.IsNegative() {
		next = decimal.Zero
	}
	level.Key = layer.Key
	level.Quantity = next
	if _, err := tx.UpsertLevel(ctx, level); err != nil {
		return CostLayer{}, decimal.Decimal{}, err
	}

	unitCost := layer.UnitCost
	totalCost := quantity.Mul(layer.UnitCost)
	movement := StockMovement{
		Key:              layer.Key,
		Type:             MovementExpired,
		Quantity:         quantity.Neg(),
		PreviousQuantity: previous,
		NewQuantity:      next,
		Ref:              ref,
		UnitCost:         &unitCost,
		TotalCost:        &totalCost,
		Note:             "expired batch write-off",
		CreatedBy:        actorID,
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return CostLayer{}, decimal.Decimal{}, err
	}
	if err := resyncVariant(ctx, tx, layer.Key); err != nil {
		return CostLayer{}, decimal.Decimal{}, err
	}
	layer.RemainingQuantity = decimal.Zero
	return layer, totalCost, nil
}

func resyncVariant(ctx context.Context, tx TxRepository, key ItemKey) error {
	if key.VariantID == nil {
		return nil
	}
	return tx.SyncVariantStock(ctx, *key.VariantID)
}
