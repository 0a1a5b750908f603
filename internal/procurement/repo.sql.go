package procurement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (r *txRepo) GetSupplier(ctx context.Context, supplierID int64) (Supplier, error) {
	var s Supplier
	err := r.tx.QueryRow(ctx, `SELECT id, name, is_active, balance FROM suppliers WHERE id=$1`, supplierID).
		Scan(&s.ID, &s.Name, &s.IsActive, &s.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

func (r *txRepo) AddSupplierBalance(ctx context.Context, supplierID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE suppliers SET balance = balance + $2, updated_at=NOW() WHERE id=$1`, supplierID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

const orderColumns = `id, supplier_id, status, subtotal, freight, total, paid_total, journal_entry_id, created_by, created_at`

func (r *txRepo) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.SupplierID, &o.Status, &o.Subtotal, &o.Freight, &o.Total, &o.PaidTotal, &o.JournalEntryID, &o.CreatedBy, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	return o, nil
}

func (r *txRepo) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]POLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, purchase_order_id, product_id, variant_id, location_id, ordered_quantity, received_quantity, unit_cost
FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.ProductID, &l.VariantID, &l.LocationID, &l.OrderedQuantity, &l.ReceivedQuantity, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) AddLineReceivedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_quantity = received_quantity + $2 WHERE id=$1`, lineID, quantity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepo) UpdateOrder(ctx context.Context, order PurchaseOrder) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE purchase_orders
SET status=$2, subtotal=$3, freight=$4, total=$5, paid_total=$6, updated_at=NOW()
WHERE id=$1`, order.ID, order.Status, order.Subtotal, order.Freight, order.Total, order.PaidTotal)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepo) InsertPayment(ctx context.Context, payment PurchasePayment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO purchase_payments (id, purchase_order_id, amount, created_by)
VALUES ($1,$2,$3,$4)`, payment.ID, payment.PurchaseOrderID, payment.Amount, payment.CreatedBy)
	return err
}

// GetOrder loads a purchase order by id using the pool.
func (r *Repository) GetOrder(ctx context.Context, orderID uuid.UUID) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.SupplierID, &o.Status, &o.Subtotal, &o.Freight, &o.Total, &o.PaidTotal, &o.JournalEntryID, &o.CreatedBy, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	return o, nil
}

// SetOrderJournalEntry records the receipt posting produced for an order.
func (r *Repository) SetOrderJournalEntry(ctx context.Context, orderID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE purchase_orders SET journal_entry_id=$2 WHERE id=$1`, orderID, entryID)
	return err
}

// SetPaymentJournalEntry records the payment posting produced for a payment.
func (r *Repository) SetPaymentJournalEntry(ctx context.Context, paymentID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE purchase_payments SET journal_entry_id=$2 WHERE id=$1`, paymentID, entryID)
	return err
}
