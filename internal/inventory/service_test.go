package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

type fakeTxRepo struct {
	levels    map[string]StockLevel
	layers    []*CostLayer
	movements []StockMovement
	costPrice map[int64]decimal.Decimal
	methods   map[int64]CostingMethod
	records   []outbox.Record
	ops       []string
	nextID    int64
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{
		levels:    map[string]StockLevel{},
		costPrice: map[int64]decimal.Decimal{},
		methods:   map[int64]CostingMethod{},
	}
}

func keyOf(key ItemKey) string {
	variant, location := int64(0), int64(0)
	if key.VariantID != nil {
		variant = *key.VariantID
	}
	if key.LocationID != nil {
		location = *key.LocationID
	}
	return fmt.Sprintf("%d/%d/%d", key.ProductID, variant, location)
}

func (f *fakeTxRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeTxRepo) GetLevelForUpdate(_ context.Context, key ItemKey) (StockLevel, error) {
	f.ops = append(f.ops, "lock-level")
	level, ok := f.levels[keyOf(key)]
	if !ok {
		return StockLevel{Key: key}, ErrLevelNotFound
	}
	return level, nil
}

func (f *fakeTxRepo) UpsertLevel(_ context.Context, level StockLevel) (StockLevel, error) {
	if level.ID == 0 {
		level.ID = f.id()
	}
	f.levels[keyOf(level.Key)] = level
	return level, nil
}

func (f *fakeTxRepo) InsertMovement(_ context.Context, movement StockMovement) (int64, error) {
	movement.ID = f.id()
	f.movements = append(f.movements, movement)
	return movement.ID, nil
}

func (f *fakeTxRepo) InsertCostLayer(_ context.Context, layer CostLayer) (int64, error) {
	layer.ID = f.id()
	f.layers = append(f.layers, &layer)
	return layer.ID, nil
}

func (f *fakeTxRepo) ListOpenLayersForUpdate(_ context.Context, key ItemKey) ([]CostLayer, error) {
	var open []CostLayer
	for _, layer := range f.layers {
		if keyOf(layer.Key) == keyOf(key) && layer.RemainingQuantity.IsPositive() {
			open = append(open, *layer)
		}
	}
	return open, nil
}

func (f *fakeTxRepo) GetLayerForUpdate(_ context.Context, layerID int64) (CostLayer, error) {
	for _, layer := range f.layers {
		if layer.ID == layerID {
			return *layer, nil
		}
	}
	return CostLayer{}, ErrLayerNotFound
}

func (f *fakeTxRepo) SetLayerRemaining(_ context.Context, layerID int64, remaining decimal.Decimal) error {
	for _, layer := range f.layers {
		if layer.ID == layerID {
			layer.RemainingQuantity = remaining
			return nil
		}
	}
	return ErrLayerNotFound
}

func (f *fakeTxRepo) RehomeLayers(_ context.Context, productID int64, variantID *int64, fromLocation, toLocation int64) error {
	for _, layer := range f.layers {
		if layer.Key.ProductID != productID {
			continue
		}
		if layer.Key.LocationID == nil || *layer.Key.LocationID != fromLocation {
			continue
		}
		to := toLocation
		layer.Key.LocationID = &to
	}
	return nil
}

func (f *fakeTxRepo) GetCostBasis(_ context.Context, productID int64, variantID *int64) (decimal.Decimal, decimal.Decimal, error) {
	f.ops = append(f.ops, "cost-basis")
	onHand := decimal.Zero
	for _, level := range f.levels {
		if level.Key.ProductID == productID {
			onHand = onHand.Add(level.Quantity)
		}
	}
	return onHand, f.costPrice[productID], nil
}

func (f *fakeTxRepo) SetCostPrice(_ context.Context, productID int64, _ *int64, cost decimal.Decimal) error {
	f.costPrice[productID] = cost
	return nil
}

func (f *fakeTxRepo) SyncVariantStock(context.Context, int64) error { return nil }

func (f *fakeTxRepo) GetCostingMethod(_ context.Context, productID int64) (CostingMethod, error) {
	method, ok := f.methods[productID]
	if !ok {
		return CostingNone, nil
	}
	return method, nil
}

func (f *fakeTxRepo) Outbox() outbox.Queue { return f }

func (f *fakeTxRepo) Enqueue(_ context.Context, record outbox.Record) (int64, error) {
	record.ID = f.id()
	f.records = append(f.records, record)
	return record.ID, nil
}

type fakeRepo struct {
	tx *fakeTxRepo
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r.tx)
}

func (r *fakeRepo) ListMovements(_ context.Context, key ItemKey, _ int) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range r.tx.movements {
		if keyOf(m.Key) == keyOf(key) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) CheckLayerDrift(context.Context, decimal.Decimal) ([]LayerDrift, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *fakeTxRepo) {
	t.Helper()
	tx := newFakeTxRepo()
	svc := NewService(&fakeRepo{tx: tx}, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) })
	return svc, tx
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedLevel(tx *fakeTxRepo, key ItemKey, quantity string) {
	tx.levels[keyOf(key)] = StockLevel{ID: tx.id(), Key: key, Quantity: dec(quantity)}
}

func seedLayer(tx *fakeTxRepo, key ItemKey, quantity, cost string, receivedAt time.Time) *CostLayer {
	layer := &CostLayer{
		ID:                tx.id(),
		Key:               key,
		OriginalQuantity:  dec(quantity),
		RemainingQuantity: dec(quantity),
		UnitCost:          dec(cost),
		ReceivedAt:        receivedAt,
	}
	tx.layers = append(tx.layers, layer)
	return layer
}

func TestReceiveWeightedAverage(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "5")
	tx.costPrice[1] = dec("4.00")
	tx.methods[1] = CostingWeightedAverage

	level, layer, err := svc.Receive(context.Background(), ReceiveInput{
		Key:      key,
		Quantity: dec("10"),
		UnitCost: dec("5.00"),
	})
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(dec("15")))
	require.True(t, layer.RemainingQuantity.Equal(dec("10")))
	require.True(t, tx.costPrice[1].Equal(dec("4.6667")), "got %s", tx.costPrice[1])
}

func TestReceiveLastCost(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 2}
	tx.costPrice[2] = dec("9.99")
	tx.methods[2] = CostingLastCost

	_, _, err := svc.Receive(context.Background(), ReceiveInput{Key: key, Quantity: dec("3"), UnitCost: dec("7.50")})
	require.NoError(t, err)
	require.True(t, tx.costPrice[2].Equal(dec("7.50")))
	require.Len(t, tx.layers, 1)
}

func TestReceiveLocksLevelBeforeCostBasis(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "5")
	tx.methods[1] = CostingWeightedAverage

	_, _, err := svc.Receive(context.Background(), ReceiveInput{Key: key, Quantity: dec("10"), UnitCost: dec("5.00")})
	require.NoError(t, err)

	require.Equal(t, "lock-level", tx.ops[0], "the row lock comes before the basis read")
	require.Equal(t, "cost-basis", tx.ops[1])
}

func TestReceiveRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Receive(context.Background(), ReceiveInput{Key: ItemKey{ProductID: 1}, Quantity: dec("0"), UnitCost: dec("1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, _, err = svc.Receive(context.Background(), ReceiveInput{Key: ItemKey{ProductID: 1}, Quantity: dec("1"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestConsumeFIFOOrderPreserving(t *testing.T) {
	_, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	older := seedLayer(tx, key, "5", "10", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := seedLayer(tx, key, "3", "12", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	result, err := ConsumeFIFO(context.Background(), tx, key, dec("7"))
	require.NoError(t, err)
	require.True(t, result.TotalCost.Equal(dec("74")), "got %s", result.TotalCost)
	require.True(t, result.UnitCost.Equal(dec("10.5714")), "got %s", result.UnitCost)
	require.Len(t, result.Consumed, 2)
	require.True(t, older.RemainingQuantity.IsZero())
	require.True(t, newer.RemainingQuantity.Equal(dec("1")))
}

func TestConsumeFIFONoLayersIsZeroCost(t *testing.T) {
	_, tx := newTestService(t)
	result, err := ConsumeFIFO(context.Background(), tx, ItemKey{ProductID: 9}, dec("4"))
	require.NoError(t, err)
	require.True(t, result.Quantity.IsZero())
	require.True(t, result.TotalCost.IsZero())
	require.Empty(t, result.Consumed)
}

func TestAdjustClampsAtZero(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "3")

	movement, err := svc.AdjustStock(context.Background(), AdjustInput{Key: key, Delta: dec("-5"), ActorID: 7})
	require.NoError(t, err)
	require.True(t, movement.NewQuantity.IsZero())
	require.True(t, movement.Quantity.Equal(dec("-3")))
	require.True(t, tx.levels[keyOf(key)].Quantity.IsZero())
}

func TestTransferInsufficientStock(t *testing.T) {
	svc, tx := newTestService(t)
	from, to := int64(1), int64(2)
	seedLevel(tx, ItemKey{ProductID: 1, LocationID: &from}, "5")

	err := svc.Transfer(context.Background(), TransferInput{ProductID: 1, FromLocation: from, ToLocation: to, Quantity: dec("6")})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestTransferRehomesLayers(t *testing.T) {
	svc, tx := newTestService(t)
	from, to := int64(1), int64(2)
	srcKey := ItemKey{ProductID: 1, LocationID: &from}
	seedLevel(tx, srcKey, "20")
	layer := seedLayer(tx, srcKey, "20", "4", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	err := svc.Transfer(context.Background(), TransferInput{ProductID: 1, FromLocation: from, ToLocation: to, Quantity: dec("20")})
	require.NoError(t, err)
	require.True(t, tx.levels[keyOf(srcKey)].Quantity.IsZero())
	dstKey := ItemKey{ProductID: 1, LocationID: &to}
	require.True(t, tx.levels[keyOf(dstKey)].Quantity.Equal(dec("20")))
	require.Equal(t, to, *layer.Key.LocationID)
	require.Len(t, tx.movements, 2)
}

func TestTransferSameLocation(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Transfer(context.Background(), TransferInput{ProductID: 1, FromLocation: 3, ToLocation: 3, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrSameLocation)
}

func TestWriteOffBatchRequiresExpiry(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	layer := seedLayer(tx, key, "5", "2", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.WriteOffBatch(context.Background(), layer.ID, 1)
	require.ErrorIs(t, err, ErrBatchNotExpired)

	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	layer.ExpirationDate = &future
	_, err = svc.WriteOffBatch(context.Background(), layer.ID, 1)
	require.ErrorIs(t, err, ErrBatchNotExpired)
}

func TestWriteOffBatchExpired(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "5")
	layer := seedLayer(tx, key, "5", "2", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	past := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	layer.ExpirationDate = &past

	got, err := svc.WriteOffBatch(context.Background(), layer.ID, 1)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.IsZero())
	require.True(t, tx.levels[keyOf(key)].Quantity.IsZero())

	require.Len(t, tx.records, 1)
	require.Equal(t, outbox.KindVariance, tx.records[0].Kind)
	var payload outbox.VariancePayload
	require.NoError(t, json.Unmarshal(tx.records[0].Payload, &payload))
	require.True(t, payload.Value.Equal(dec("-10")), "got %s", payload.Value)

	_, err = svc.WriteOffBatch(context.Background(), layer.ID, 1)
	require.ErrorIs(t, err, ErrBatchDepleted)
}

func TestWriteOffDamagedValuesAtFIFO(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "5")
	seedLayer(tx, key, "5", "10", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	movement, err := svc.WriteOffDamaged(context.Background(), DamageInput{Key: key, Quantity: dec("2"), ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, MovementDamaged, movement.Type)
	require.NotNil(t, movement.TotalCost)
	require.True(t, movement.TotalCost.Equal(dec("20")))
	require.True(t, tx.levels[keyOf(key)].Quantity.Equal(dec("3")))

	require.Len(t, tx.records, 1)
	var payload outbox.VariancePayload
	require.NoError(t, json.Unmarshal(tx.records[0].Payload, &payload))
	require.True(t, payload.Value.Equal(dec("-20")))
}

func TestWriteOffDamagedWithoutLayersSkipsPosting(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "5")

	movement, err := svc.WriteOffDamaged(context.Background(), DamageInput{Key: key, Quantity: dec("2")})
	require.NoError(t, err)
	require.True(t, movement.NewQuantity.Equal(dec("3")))
	require.Empty(t, tx.records)
}

func TestCommitCycleCountShrinkAndGain(t *testing.T) {
	svc, tx := newTestService(t)
	short := ItemKey{ProductID: 1}
	over := ItemKey{ProductID: 2}
	seedLevel(tx, short, "10")
	seedLayer(tx, short, "10", "3", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	seedLevel(tx, over, "4")
	tx.costPrice[2] = dec("5")

	result, err := svc.CommitCycleCount(context.Background(), CycleCountInput{
		Lines: []CycleCountLine{
			{Key: short, Counted: dec("8")},
			{Key: over, Counted: dec("6")},
		},
		ActorID: 9,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Adjusted)
	// shrink 2*3 = -6, gain 2*5 = +10
	require.True(t, result.NetValue.Equal(dec("4")), "got %s", result.NetValue)
	require.True(t, tx.levels[keyOf(short)].Quantity.Equal(dec("8")))
	require.True(t, tx.levels[keyOf(over)].Quantity.Equal(dec("6")))

	require.Len(t, tx.records, 1)
	var payload outbox.VariancePayload
	require.NoError(t, json.Unmarshal(tx.records[0].Payload, &payload))
	require.True(t, payload.Value.Equal(dec("4")))
}

func TestCommitCycleCountNoDrift(t *testing.T) {
	svc, tx := newTestService(t)
	key := ItemKey{ProductID: 1}
	seedLevel(tx, key, "10")

	result, err := svc.CommitCycleCount(context.Background(), CycleCountInput{
		Lines: []CycleCountLine{{Key: key, Counted: dec("10")}},
	})
	require.NoError(t, err)
	require.Zero(t, result.Adjusted)
	require.Empty(t, tx.records)
	require.Empty(t, tx.movements)
}
