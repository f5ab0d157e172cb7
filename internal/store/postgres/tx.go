package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) BuyerExists(ctx context.Context, buyer domain.BuyerRef) (bool, error) {
	var query string
	switch buyer.Kind() {
	case domain.BuyerMember:
		query = `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`
	case domain.BuyerWalkIn:
		query = `SELECT EXISTS (SELECT 1 FROM walk_ins WHERE id = $1)`
	default:
		return false, nil
	}
	var exists bool
	if err := t.tx.GetContext(ctx, &exists, query, buyer.ID()); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, mapError(err)
	}
	product := row.toDomain()
	return &product, nil
}

func (t *pgTx) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	var row productRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE name = $1 FOR UPDATE`, domain.NormalizeName(name)); err != nil {
		return nil, mapError(err)
	}
	product := row.toDomain()
	return &product, nil
}

func (t *pgTx) UpdateProductStock(ctx context.Context, id int64, stock int, status domain.StockStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, id, stock, status)
	return affectedOne(res, err)
}

func (t *pgTx) FindEquipmentByName(ctx context.Context, name string) (*domain.Equipment, error) {
	var row equipmentRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+equipmentColumns+` FROM equipment WHERE name = $1 FOR UPDATE`, domain.NormalizeName(name)); err != nil {
		return nil, mapError(err)
	}
	equipment := row.toDomain()
	return &equipment, nil
}

func (t *pgTx) UpdateEquipmentQuantity(ctx context.Context, id int64, quantity int, status domain.StockStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE equipment
		SET quantity = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, id, quantity, status)
	return affectedOne(res, err)
}

func (t *pgTx) GetPackage(ctx context.Context, id int64) (*domain.Package, error) {
	var pkg domain.Package
	err := t.tx.QueryRowxContext(ctx, `
		SELECT id, name, price, duration, created_at FROM packages WHERE id = $1
	`, id).Scan(&pkg.ID, &pkg.Name, &pkg.Price, &pkg.Duration, &pkg.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &pkg, nil
}

func (t *pgTx) GetSupplierForUpdate(ctx context.Context, id int64) (*domain.Supplier, error) {
	var row supplierRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, mapError(err)
	}
	supplier := row.toDomain()
	return &supplier, nil
}

func (t *pgTx) UpdateSupplierProducts(ctx context.Context, id int64, products string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE suppliers SET products = $2 WHERE id = $1`, id, products)
	return affectedOne(res, err)
}

func (t *pgTx) FindReceiptByIdempotencyKey(ctx context.Context, key string) (*domain.Receipt, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	var receipt domain.Receipt
	var idem sql.NullString
	var memberID, walkInID sql.NullInt64
	err := t.tx.QueryRowxContext(ctx, `
		SELECT receipt_no, idempotency_key, member_id, walk_in_id, employee_id,
			payment_method, total_amount, transaction_count, created_at
		FROM receipts
		WHERE idempotency_key = $1
	`, key).Scan(&receipt.ReceiptNo, &idem, &memberID, &walkInID, &receipt.EmployeeID,
		&receipt.PaymentMethod, &receipt.TotalAmount, &receipt.TransactionCount, &receipt.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	receipt.IdempotencyKey = idem.String
	receipt.Buyer = buyerFromColumns(memberID, walkInID)
	receipt.CreatedAt = receipt.CreatedAt.UTC()

	sales, err := listSalesByReceipt(ctx, t.tx, receipt.ReceiptNo)
	if err != nil {
		return nil, err
	}
	receipt.SaleIDs = make([]int64, 0, len(sales))
	for _, sale := range sales {
		receipt.SaleIDs = append(receipt.SaleIDs, sale.ID)
	}
	return &receipt, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	if sale.Item.IsZero() || sale.Buyer.IsZero() || sale.Quantity < 1 {
		return 0, store.ErrInvalidTransaction
	}
	var id int64
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO sales (
			receipt_no, package_id, product_id, member_id, walk_in_id,
			quantity, unit_price, amount, payment_method, recorded_by, sold_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, sale.ReceiptNo, nullID(sale.Item.PackageID()), nullID(sale.Item.ProductID()),
		nullID(sale.Buyer.MemberID()), nullID(sale.Buyer.WalkInID()),
		sale.Quantity, sale.UnitPrice, sale.Amount, sale.PaymentMethod, sale.RecordedBy, sale.SoldAt).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (t *pgTx) InsertReceipt(ctx context.Context, receipt domain.Receipt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO receipts (
			receipt_no, idempotency_key, member_id, walk_in_id, employee_id,
			payment_method, total_amount, transaction_count, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, receipt.ReceiptNo, nullIfEmpty(receipt.IdempotencyKey),
		nullID(receipt.Buyer.MemberID()), nullID(receipt.Buyer.WalkInID()), receipt.EmployeeID,
		receipt.PaymentMethod, receipt.TotalAmount, receipt.TransactionCount, receipt.CreatedAt)
	return mapError(err)
}

// AddSessions upserts on the partial unique index matching the buyer
// variant. xmax is zero only for a freshly inserted tuple.
func (t *pgTx) AddSessions(ctx context.Context, buyer domain.BuyerRef, packageID int64, sessions int, startDate time.Time) (domain.SessionBalance, bool, error) {
	if buyer.IsZero() || sessions < 1 {
		return domain.SessionBalance{}, false, store.ErrInvalidTransaction
	}
	target := `(member_id, package_id) WHERE member_id IS NOT NULL`
	if buyer.Kind() == domain.BuyerWalkIn {
		target = `(walk_in_id, package_id) WHERE walk_in_id IS NOT NULL`
	}

	balance := domain.SessionBalance{Buyer: buyer, PackageID: packageID}
	var created bool
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO session_balances (member_id, walk_in_id, package_id, sessions_remaining, start_date)
		VALUES ($1,$2,$3,$4,$5::date)
		ON CONFLICT `+target+`
		DO UPDATE SET
			sessions_remaining = session_balances.sessions_remaining + EXCLUDED.sessions_remaining,
			updated_at = now()
		RETURNING id, sessions_remaining, start_date, (xmax = 0)
	`, nullID(buyer.MemberID()), nullID(buyer.WalkInID()), packageID, sessions, dateParam(startDate)).Scan(
		&balance.ID, &balance.SessionsRemaining, &balance.StartDate, &created)
	if err != nil {
		return domain.SessionBalance{}, false, mapError(err)
	}
	return balance, created, nil
}

func (t *pgTx) AddDailySales(ctx context.Context, date time.Time, employeeID int64, amount decimal.Decimal, count int) (domain.DailyAggregate, error) {
	var agg domain.DailyAggregate
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO daily_sales (sale_date, employee_id, total_amount, transaction_count, updated_at)
		VALUES ($1::date,$2,$3,$4,now())
		ON CONFLICT (sale_date, employee_id)
		DO UPDATE SET
			total_amount = daily_sales.total_amount + EXCLUDED.total_amount,
			transaction_count = daily_sales.transaction_count + EXCLUDED.transaction_count,
			updated_at = now()
		RETURNING sale_date, employee_id, total_amount, transaction_count
	`, dateParam(date), employeeID, amount, count).Scan(&agg.Date, &agg.EmployeeID, &agg.TotalAmount, &agg.TransactionCount)
	if err != nil {
		return domain.DailyAggregate{}, mapError(err)
	}
	return agg, nil
}

func (t *pgTx) GetPurchaseOrderForUpdate(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, t.tx, id, true)
}

func (t *pgTx) MarkPurchaseOrderSent(ctx context.Context, id int64, at time.Time, by string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET sent_to_inventory = true, sent_to_inventory_at = $2, sent_to_inventory_by = $3
		WHERE id = $1 AND sent_to_inventory = false
	`, id, at, nullIfEmpty(by))
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (t *pgTx) DeletePurchaseOrder(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
