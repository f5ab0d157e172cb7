package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
	"ahontrack/backend/internal/xid"
)

const purchaseOrderColumns = `id, po_number, supplier_id, category, shipping_status, payment_status,
	subtotal, tax, total, sent_to_inventory, sent_to_inventory_at, sent_to_inventory_by, created_by, created_at`

type purchaseOrderRow struct {
	ID                int64           `db:"id"`
	Number            string          `db:"po_number"`
	SupplierID        int64           `db:"supplier_id"`
	Category          string          `db:"category"`
	ShippingStatus    string          `db:"shipping_status"`
	PaymentStatus     string          `db:"payment_status"`
	Subtotal          decimal.Decimal `db:"subtotal"`
	Tax               decimal.Decimal `db:"tax"`
	Total             decimal.Decimal `db:"total"`
	SentToInventory   bool            `db:"sent_to_inventory"`
	SentToInventoryAt sql.NullTime    `db:"sent_to_inventory_at"`
	SentToInventoryBy sql.NullString  `db:"sent_to_inventory_by"`
	CreatedBy         int64           `db:"created_by"`
	CreatedAt         time.Time       `db:"created_at"`
}

func (r purchaseOrderRow) toDomain() domain.PurchaseOrder {
	po := domain.PurchaseOrder{
		ID:                r.ID,
		Number:            r.Number,
		SupplierID:        r.SupplierID,
		Category:          domain.CatalogKind(r.Category),
		ShippingStatus:    domain.ShippingStatus(r.ShippingStatus),
		PaymentStatus:     domain.PaymentStatus(r.PaymentStatus),
		Subtotal:          r.Subtotal,
		Tax:               r.Tax,
		Total:             r.Total,
		SentToInventory:   r.SentToInventory,
		SentToInventoryBy: r.SentToInventoryBy.String,
		CreatedBy:         r.CreatedBy,
		CreatedAt:         r.CreatedAt.UTC(),
	}
	if r.SentToInventoryAt.Valid {
		at := r.SentToInventoryAt.Time.UTC()
		po.SentToInventoryAt = &at
	}
	return po
}

type purchaseOrderItemRow struct {
	ID              int64           `db:"id"`
	PurchaseOrderID int64           `db:"purchase_order_id"`
	ItemName        string          `db:"item_name"`
	Unit            string          `db:"unit"`
	Quantity        int             `db:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price"`
	LineTotal       decimal.Decimal `db:"line_total"`
}

func (r purchaseOrderItemRow) toDomain() domain.PurchaseOrderLine {
	return domain.PurchaseOrderLine{
		ID:        r.ID,
		ItemName:  r.ItemName,
		Unit:      r.Unit,
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
		LineTotal: r.LineTotal,
	}
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.Number == "" || po.SupplierID < 1 || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var supplierExists bool
	if err := tx.GetContext(ctx, &supplierExists, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, po.SupplierID); err != nil {
		return nil, err
	}
	if !supplierExists {
		return nil, store.ErrNotFound
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO purchase_orders (
			po_number, supplier_id, category, shipping_status, payment_status,
			subtotal, tax, total, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, po.Number, po.SupplierID, po.Category, po.ShippingStatus, po.PaymentStatus,
		po.Subtotal, po.Tax, po.Total, po.CreatedBy, po.CreatedAt).Scan(&po.ID)
	if err != nil {
		return nil, mapError(err)
	}

	items := make([]domain.PurchaseOrderLine, 0, len(po.Items))
	for _, item := range po.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, item_name, unit, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, po.ID, item.ItemName, item.Unit, item.Quantity, item.UnitPrice, item.LineTotal).Scan(&item.ID)
		if err != nil {
			return nil, mapError(err)
		}
		items = append(items, item)
	}
	po.Items = items

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, s.db, id, false)
}

// loadPurchaseOrder reads the header and its lines. forUpdate locks the
// header row for the rest of the enclosing transaction.
func loadPurchaseOrder(ctx context.Context, q sqlx.QueryerContext, id int64, forUpdate bool) (*domain.PurchaseOrder, error) {
	query := `SELECT ` + purchaseOrderColumns + ` FROM purchase_orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row purchaseOrderRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	po := row.toDomain()

	itemRows := make([]purchaseOrderItemRow, 0, 8)
	if err := sqlx.SelectContext(ctx, q, &itemRows, `
		SELECT id, purchase_order_id, item_name, unit, quantity, unit_price, line_total
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, id); err != nil {
		return nil, err
	}
	po.Items = make([]domain.PurchaseOrderLine, 0, len(itemRows))
	for _, item := range itemRows {
		po.Items = append(po.Items, item.toDomain())
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	rows := make([]purchaseOrderRow, 0, limit)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		ORDER BY id DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.PurchaseOrder{}, nil
	}

	result := make([]domain.PurchaseOrder, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
		ids = append(ids, row.ID)
	}

	itemRows := make([]purchaseOrderItemRow, 0, len(rows)*2)
	if err := s.db.SelectContext(ctx, &itemRows, `
		SELECT id, purchase_order_id, item_name, unit, quantity, unit_price, line_total
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY id ASC
	`, ids); err != nil {
		return nil, err
	}
	itemMap := make(map[int64][]domain.PurchaseOrderLine, len(ids))
	for _, item := range itemRows {
		itemMap[item.PurchaseOrderID] = append(itemMap[item.PurchaseOrderID], item.toDomain())
	}
	for i := range result {
		result[i].Items = itemMap[result[i].ID]
	}
	return result, nil
}

func (s *Store) UpdatePurchaseOrderStatus(ctx context.Context, id int64, shipping domain.ShippingStatus, payment domain.PaymentStatus) (*domain.PurchaseOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET shipping_status = $2, payment_status = $3
		WHERE id = $1
	`, id, shipping, payment)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPurchaseOrder(ctx, id)
}

func (s *Store) ListSalesByReceipt(ctx context.Context, receiptNo string) ([]domain.Sale, error) {
	return listSalesByReceipt(ctx, s.db, receiptNo)
}

func listSalesByReceipt(ctx context.Context, q sqlx.QueryerContext, receiptNo string) ([]domain.Sale, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT id, receipt_no, package_id, product_id, member_id, walk_in_id,
			quantity, unit_price, amount, payment_method, recorded_by, sold_at
		FROM sales
		WHERE receipt_no = $1
		ORDER BY id ASC
	`, receiptNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 4)
	for rows.Next() {
		var sale domain.Sale
		var packageID, productID, memberID, walkInID sql.NullInt64
		if err := rows.Scan(&sale.ID, &sale.ReceiptNo, &packageID, &productID, &memberID, &walkInID,
			&sale.Quantity, &sale.UnitPrice, &sale.Amount, &sale.PaymentMethod, &sale.RecordedBy, &sale.SoldAt); err != nil {
			return nil, err
		}
		sale.Item = itemFromColumns(packageID, productID)
		sale.Buyer = buyerFromColumns(memberID, walkInID)
		sale.SoldAt = sale.SoldAt.UTC()
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) ListSessionBalances(ctx context.Context, buyer domain.BuyerRef) ([]domain.SessionBalance, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, member_id, walk_in_id, package_id, sessions_remaining, start_date
		FROM session_balances
		WHERE member_id IS NOT DISTINCT FROM $1 AND walk_in_id IS NOT DISTINCT FROM $2
		ORDER BY package_id
	`, nullID(buyer.MemberID()), nullID(buyer.WalkInID()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]domain.SessionBalance, 0, 4)
	for rows.Next() {
		var balance domain.SessionBalance
		var memberID, walkInID sql.NullInt64
		if err := rows.Scan(&balance.ID, &memberID, &walkInID, &balance.PackageID, &balance.SessionsRemaining, &balance.StartDate); err != nil {
			return nil, err
		}
		balance.Buyer = buyerFromColumns(memberID, walkInID)
		balances = append(balances, balance)
	}
	return balances, rows.Err()
}

func (s *Store) GetDailyAggregate(ctx context.Context, date time.Time, employeeID int64) (*domain.DailyAggregate, error) {
	var agg domain.DailyAggregate
	err := s.db.QueryRowxContext(ctx, `
		SELECT sale_date, employee_id, total_amount, transaction_count
		FROM daily_sales
		WHERE sale_date = $1::date AND employee_id = $2
	`, dateParam(date), employeeID).Scan(&agg.Date, &agg.EmployeeID, &agg.TotalAmount, &agg.TransactionCount)
	if err != nil {
		return nil, mapError(err)
	}
	return &agg, nil
}

func (s *Store) ListDailyAggregates(ctx context.Context, date time.Time) ([]domain.DailyAggregate, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT sale_date, employee_id, total_amount, transaction_count
		FROM daily_sales
		WHERE sale_date = $1::date
		ORDER BY employee_id
	`, dateParam(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.DailyAggregate, 0, 4)
	for rows.Next() {
		var agg domain.DailyAggregate
		if err := rows.Scan(&agg.Date, &agg.EmployeeID, &agg.TotalAmount, &agg.TransactionCount); err != nil {
			return nil, err
		}
		items = append(items, agg)
	}
	return items, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ActorID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
