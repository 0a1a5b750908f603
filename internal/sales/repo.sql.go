package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const saleColumns = `id, customer_id, shift_id, status, subtotal, discount, tax_rate, tax_amount, total, cost_total, points_earned, points_redeemed, journal_entry_id, cogs_journal_entry_id, created_by, created_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.CustomerID, &s.ShiftID, &s.Status, &s.Subtotal, &s.Discount, &s.TaxRate, &s.TaxAmount, &s.Total, &s.CostTotal, &s.PointsEarned, &s.PointsRedeemed, &s.JournalEntryID, &s.COGSJournalEntryID, &s.CreatedBy, &s.CreatedAt)
	return s, err
}

func (r *txRepo) InsertSale(ctx context.Context, sale Sale) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sales (id, customer_id, shift_id, status, subtotal, discount, tax_rate, tax_amount, total, cost_total, points_earned, points_redeemed, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sale.ID, sale.CustomerID, sale.ShiftID, sale.Status, sale.Subtotal, sale.Discount, sale.TaxRate, sale.TaxAmount, sale.Total, sale.CostTotal, sale.PointsEarned, sale.PointsRedeemed, sale.CreatedBy)
	return err
}

func (r *txRepo) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, variant_id, location_id, quantity, returned_quantity, unit_price, line_total, unit_cost)
VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8) RETURNING id`,
		line.SaleID, line.ProductID, line.VariantID, line.LocationID, line.Quantity, line.UnitPrice, line.LineTotal, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepo) InsertSalePayment(ctx context.Context, payment SalePayment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sale_payments (sale_id, method, amount, gift_card_code) VALUES ($1,$2,$3,$4)`,
		payment.SaleID, payment.Method, payment.Amount, payment.GiftCardCode)
	return err
}

func (r *txRepo) GetSaleForUpdate(ctx context.Context, saleID uuid.UUID) (Sale, error) {
	sale, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return sale, nil
}

func (r *txRepo) ListSaleLines(ctx context.Context, saleID uuid.UUID) ([]SaleLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, sale_id, product_id, variant_id, location_id, quantity, returned_quantity, unit_price, line_total, unit_cost
FROM sale_lines WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SaleLine
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.VariantID, &l.LocationID, &l.Quantity, &l.ReturnedQuantity, &l.UnitPrice, &l.LineTotal, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) AddLineReturnedQuantity(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE sale_lines SET returned_quantity = returned_quantity + $2 WHERE id=$1`, lineID, quantity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepo) MarkSaleReturned(ctx context.Context, saleID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET status='RETURNED' WHERE id=$1`, saleID)
	return err
}

func (r *txRepo) InsertReturn(ctx context.Context, ret Return) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sale_returns (id, sale_id, refund_subtotal, refund_tax, refund_total, cost_total, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ret.ID, ret.SaleID, ret.RefundSubtotal, ret.RefundTax, ret.RefundTotal, ret.CostTotal, ret.CreatedBy)
	return err
}

func (r *txRepo) InsertReturnLine(ctx context.Context, line ReturnLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_return_lines (return_id, sale_line_id, quantity) VALUES ($1,$2,$3) RETURNING id`,
		line.ReturnID, line.SaleLineID, line.Quantity).Scan(&id)
	return id, err
}

func (r *txRepo) GetCustomerForUpdate(ctx context.Context, customerID int64) (Customer, error) {
	var c Customer
	err := r.tx.QueryRow(ctx, `SELECT id, due_balance, credit_limit, store_credit, loyalty_points, total_spent, visit_count
FROM customers WHERE id=$1 FOR UPDATE`, customerID).
		Scan(&c.ID, &c.DueBalance, &c.CreditLimit, &c.StoreCredit, &c.LoyaltyPoints, &c.TotalSpent, &c.VisitCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *txRepo) UpdateCustomerBalances(ctx context.Context, customer Customer) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE customers
SET due_balance=$2, store_credit=$3, loyalty_points=$4, total_spent=$5, visit_count=$6, updated_at=NOW()
WHERE id=$1`,
		customer.ID, customer.DueBalance, customer.StoreCredit, customer.LoyaltyPoints, customer.TotalSpent, customer.VisitCount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *txRepo) GetGiftCardForUpdate(ctx context.Context, code string) (GiftCard, error) {
	var g GiftCard
	err := r.tx.QueryRow(ctx, `SELECT id, code, balance, is_active FROM gift_cards WHERE code=$1 FOR UPDATE`, code).
		Scan(&g.ID, &g.Code, &g.Balance, &g.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GiftCard{}, ErrGiftCardNotFound
		}
		return GiftCard{}, err
	}
	return g, nil
}

func (r *txRepo) AddGiftCardBalance(ctx context.Context, cardID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE gift_cards SET balance = balance + $2, updated_at=NOW() WHERE id=$1`, cardID, delta)
	return err
}

func (r *txRepo) AddShiftTotals(ctx context.Context, shiftID int64, cash, total decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE shifts
SET cash_total = cash_total + $2, sales_total = sales_total + $3, sales_count = sales_count + 1
WHERE id=$1`, shiftID, cash, total)
	return err
}

func (r *txRepo) InsertDueCollection(ctx context.Context, collection DueCollection) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO due_collections (id, customer_id, amount, method, status, created_by)
VALUES ($1,$2,$3,$4,$5,$6)`,
		collection.ID, collection.CustomerID, collection.Amount, collection.Method, collection.Status, collection.CreatedBy)
	return err
}

// GetSale loads a sale by id using the pool.
func (r *Repository) GetSale(ctx context.Context, saleID uuid.UUID) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return sale, nil
}

// The Set*JournalEntry writebacks run outside the phase-one transaction:
// they record which journal entry the posting phase produced so a later
// void can find the originating record.

func (r *Repository) SetSaleJournalEntry(ctx context.Context, saleID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE sales SET journal_entry_id=$2 WHERE id=$1`, saleID, entryID)
	return err
}

func (r *Repository) SetSaleCOGSJournalEntry(ctx context.Context, saleID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE sales SET cogs_journal_entry_id=$2 WHERE id=$1`, saleID, entryID)
	return err
}

func (r *Repository) SetReturnJournalEntry(ctx context.Context, returnID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE sale_returns SET journal_entry_id=$2 WHERE id=$1`, returnID, entryID)
	return err
}

func (r *Repository) SetReturnCOGSJournalEntry(ctx context.Context, returnID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE sale_returns SET cogs_journal_entry_id=$2 WHERE id=$1`, returnID, entryID)
	return err
}

func (r *Repository) SetDueCollectionJournalEntry(ctx context.Context, collectionID uuid.UUID, entryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE due_collections SET journal_entry_id=$2 WHERE id=$1`, collectionID, entryID)
	return err
}
