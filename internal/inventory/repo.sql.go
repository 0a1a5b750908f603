package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const levelColumns = `id, product_id, variant_id, location_id, quantity, reserved_quantity, updated_at`

func scanLevel(row pgx.Row) (StockLevel, error) {
	var l StockLevel
	err := row.Scan(&l.ID, &l.Key.ProductID, &l.Key.VariantID, &l.Key.LocationID, &l.Quantity, &l.ReservedQuantity, &l.UpdatedAt)
	return l, err
}

const layerColumns = `id, product_id, variant_id, location_id, original_quantity, remaining_quantity, unit_cost, received_at, expiration_date, lot_number`

func scanLayer(row pgx.Row) (CostLayer, error) {
	var l CostLayer
	err := row.Scan(&l.ID, &l.Key.ProductID, &l.Key.VariantID, &l.Key.LocationID, &l.OriginalQuantity, &l.RemainingQuantity, &l.UnitCost, &l.ReceivedAt, &l.ExpirationDate, &l.LotNumber)
	return l, err
}

func (r *txRepo) GetLevelForUpdate(ctx context.Context, key ItemKey) (StockLevel, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
WHERE product_id=$1 AND variant_id IS NOT DISTINCT FROM $2 AND location_id IS NOT DISTINCT FROM $3 FOR UPDATE`,
		key.ProductID, key.VariantID, key.LocationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{Key: key}, ErrLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

func (r *txRepo) UpsertLevel(ctx context.Context, level StockLevel) (StockLevel, error) {
	if level.ID == 0 {
		err := r.tx.QueryRow(ctx, `INSERT INTO stock_levels (product_id, variant_id, location_id, quantity, reserved_quantity)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			level.Key.ProductID, level.Key.VariantID, level.Key.LocationID, level.Quantity, level.ReservedQuantity).Scan(&level.ID)
		return level, err
	}
	_, err := r.tx.Exec(ctx, `UPDATE stock_levels SET quantity=$2, reserved_quantity=$3, updated_at=NOW() WHERE id=$1`,
		level.ID, level.Quantity, level.ReservedQuantity)
	return level, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	var refType *string
	var refID *string
	if m.Ref.Type != "" {
		t := string(m.Ref.Type)
		refType = &t
		s := m.Ref.ID.String()
		refID = &s
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, variant_id, location_id, type, quantity, previous_quantity, new_quantity, reference_type, reference_id, unit_cost, total_cost, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		m.Key.ProductID, m.Key.VariantID, m.Key.LocationID, m.Type, m.Quantity, m.PreviousQuantity, m.NewQuantity,
		refType, refID, m.UnitCost, m.TotalCost, m.Note, m.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertCostLayer(ctx context.Context, layer CostLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_layers
(product_id, variant_id, location_id, original_quantity, remaining_quantity, unit_cost, received_at, expiration_date, lot_number)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		layer.Key.ProductID, layer.Key.VariantID, layer.Key.LocationID, layer.OriginalQuantity, layer.RemainingQuantity,
		layer.UnitCost, layer.ReceivedAt, layer.ExpirationDate, layer.LotNumber).Scan(&id)
	return id, err
}

func (r *txRepo) ListOpenLayersForUpdate(ctx context.Context, key ItemKey) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM cost_layers
WHERE product_id=$1 AND variant_id IS NOT DISTINCT FROM $2 AND location_id IS NOT DISTINCT FROM $3 AND remaining_quantity > 0
ORDER BY received_at, id FOR UPDATE`,
		key.ProductID, key.VariantID, key.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepo) GetLayerForUpdate(ctx context.Context, layerID int64) (CostLayer, error) {
	layer, err := scanLayer(r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM cost_layers WHERE id=$1 FOR UPDATE`, layerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostLayer{}, ErrLayerNotFound
		}
		return CostLayer{}, err
	}
	return layer, nil
}

func (r *txRepo) SetLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE cost_layers SET remaining_quantity=$2 WHERE id=$1`, layerID, remaining)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (r *txRepo) RehomeLayers(ctx context.Context, productID int64, variantID *int64, fromLocation, toLocation int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE cost_layers SET location_id=$4
WHERE product_id=$1 AND variant_id IS NOT DISTINCT FROM $2 AND location_id=$3 AND remaining_quantity > 0`,
		productID, variantID, fromLocation, toLocation)
	return err
}

func (r *txRepo) GetCostBasis(ctx context.Context, productID int64, variantID *int64) (decimal.Decimal, decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_levels
WHERE product_id=$1 AND variant_id IS NOT DISTINCT FROM $2`, productID, variantID).Scan(&onHand)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	var cost decimal.Decimal
	if variantID != nil {
		err = r.tx.QueryRow(ctx, `SELECT COALESCE(cost_price, 0) FROM product_variants WHERE id=$1`, *variantID).Scan(&cost)
	} else {
		err = r.tx.QueryRow(ctx, `SELECT COALESCE(cost_price, 0) FROM products WHERE id=$1`, productID).Scan(&cost)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return onHand, decimal.Zero, nil
		}
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return onHand, cost, nil
}

func (r *txRepo) SetCostPrice(ctx context.Context, productID int64, variantID *int64, cost decimal.Decimal) error {
	if variantID != nil {
		_, err := r.tx.Exec(ctx, `UPDATE product_variants SET cost_price=$2, updated_at=NOW() WHERE id=$1`, *variantID, cost)
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE products SET cost_price=$2, updated_at=NOW() WHERE id=$1`, productID, cost)
	return err
}

func (r *txRepo) GetCostingMethod(ctx context.Context, productID int64) (CostingMethod, error) {
	var method CostingMethod
	err := r.tx.QueryRow(ctx, `SELECT costing_method FROM products WHERE id=$1`, productID).Scan(&method)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostingNone, nil
		}
		return CostingNone, err
	}
	if method == "" {
		method = CostingNone
	}
	return method, nil
}

func (r *txRepo) SyncVariantStock(ctx context.Context, variantID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE product_variants
SET stock_quantity = (SELECT COALESCE(SUM(quantity), 0) FROM stock_levels WHERE variant_id = $1), updated_at = NOW()
WHERE id = $1`, variantID)
	return err
}

// ListMovements returns the audit trail for an item, newest first.
func (r *Repository) ListMovements(ctx context.Context, key ItemKey, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, variant_id, location_id, type, quantity, previous_quantity, new_quantity, reference_type, reference_id, unit_cost, total_cost, note, created_by, created_at
FROM stock_movements
WHERE product_id=$1 AND variant_id IS NOT DISTINCT FROM $2 AND location_id IS NOT DISTINCT FROM $3
ORDER BY id DESC LIMIT $4`, key.ProductID, key.VariantID, key.LocationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		var refType, refID *string
		if err := rows.Scan(&m.ID, &m.Key.ProductID, &m.Key.VariantID, &m.Key.LocationID, &m.Type, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity, &refType, &refID, &m.UnitCost, &m.TotalCost, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		if refType != nil {
			m.Ref.Type = RefType(*refType)
		}
		if refID != nil {
			if parsed, err := uuid.Parse(*refID); err == nil {
				m.Ref.ID = parsed
			}
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CheckLayerDrift compares each stock bucket's level quantity against the
// sum of its remaining cost layers. Manual adjustments bypass layers, so
// drift is expected and advisory.
func (r *Repository) CheckLayerDrift(ctx context.Context, tolerance decimal.Decimal) ([]LayerDrift, error) {
	rows, err := r.pool.Query(ctx, `
SELECT l.product_id, l.variant_id, l.location_id, l.quantity,
       COALESCE((SELECT SUM(c.remaining_quantity) FROM cost_layers c
                 WHERE c.product_id = l.product_id
                   AND c.variant_id IS NOT DISTINCT FROM l.variant_id
                   AND c.location_id IS NOT DISTINCT FROM l.location_id), 0) AS layer_qty
FROM stock_levels l`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []LayerDrift
	for rows.Next() {
		var d LayerDrift
		if err := rows.Scan(&d.Key.ProductID, &d.Key.VariantID, &d.Key.LocationID, &d.LevelQuantity, &d.LayerQuantity); err != nil {
			return nil, err
		}
		if d.LevelQuantity.Sub(d.LayerQuantity).Abs().GreaterThan(tolerance) {
			drifts = append(drifts, d)
		}
	}
	return drifts, rows.Err()
}
