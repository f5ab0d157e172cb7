package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
)

// memTx operates on a staged copy owned by WithTx; the store mutex is held
// for its whole lifetime.
type memTx struct {
	st *state
}

func (t *memTx) BuyerExists(_ context.Context, buyer domain.BuyerRef) (bool, error) {
	switch buyer.Kind() {
	case domain.BuyerMember:
		_, ok := t.st.members[buyer.ID()]
		return ok, nil
	case domain.BuyerWalkIn:
		_, ok := t.st.walkIns[buyer.ID()]
		return ok, nil
	default:
		return false, nil
	}
}

func (t *memTx) GetProductForUpdate(_ context.Context, id int64) (*domain.Product, error) {
	product, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *memTx) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	name = domain.NormalizeName(name)
	for _, product := range t.st.products {
		if product.Name == name {
			out := product
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) UpdateProductStock(_ context.Context, id int64, stock int, status domain.StockStatus) error {
	product, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if stock < 0 {
		return store.ErrInvalidTransaction
	}
	product.Stock = stock
	product.Status = status
	t.st.products[id] = product
	return nil
}

func (t *memTx) FindEquipmentByName(_ context.Context, name string) (*domain.Equipment, error) {
	name = domain.NormalizeName(name)
	for _, equipment := range t.st.equipment {
		if equipment.Name == name {
			out := equipment
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) UpdateEquipmentQuantity(_ context.Context, id int64, quantity int, status domain.StockStatus) error {
	equipment, ok := t.st.equipment[id]
	if !ok {
		return store.ErrNotFound
	}
	if quantity < 0 {
		return store.ErrInvalidTransaction
	}
	equipment.Quantity = quantity
	equipment.Status = status
	t.st.equipment[id] = equipment
	return nil
}

func (t *memTx) GetPackage(_ context.Context, id int64) (*domain.Package, error) {
	pkg, ok := t.st.packages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pkg, nil
}

func (t *memTx) GetSupplierForUpdate(_ context.Context, id int64) (*domain.Supplier, error) {
	supplier, ok := t.st.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (t *memTx) UpdateSupplierProducts(_ context.Context, id int64, products string) error {
	supplier, ok := t.st.suppliers[id]
	if !ok {
		return store.ErrNotFound
	}
	supplier.Products = products
	t.st.suppliers[id] = supplier
	return nil
}

func (t *memTx) FindReceiptByIdempotencyKey(_ context.Context, key string) (*domain.Receipt, error) {
	receiptNo, ok := t.st.receiptsByIdem[key]
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	receipt := cloneReceipt(t.st.receipts[receiptNo])
	return &receipt, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	if sale.Item.IsZero() || sale.Buyer.IsZero() || sale.Quantity < 1 {
		return 0, store.ErrInvalidTransaction
	}
	sale.ID = t.st.next("sales")
	t.st.sales = append(t.st.sales, sale)
	return sale.ID, nil
}

func (t *memTx) InsertReceipt(_ context.Context, receipt domain.Receipt) error {
	if _, exists := t.st.receipts[receipt.ReceiptNo]; exists {
		return store.ErrConflict
	}
	if receipt.IdempotencyKey != "" {
		if _, exists := t.st.receiptsByIdem[receipt.IdempotencyKey]; exists {
			return store.ErrConflict
		}
		t.st.receiptsByIdem[receipt.IdempotencyKey] = receipt.ReceiptNo
	}
	t.st.receipts[receipt.ReceiptNo] = cloneReceipt(receipt)
	return nil
}

func (t *memTx) AddSessions(_ context.Context, buyer domain.BuyerRef, packageID int64, sessions int, startDate time.Time) (domain.SessionBalance, bool, error) {
	if buyer.IsZero() || sessions < 1 {
		return domain.SessionBalance{}, false, store.ErrInvalidTransaction
	}
	key := balanceKey{buyerKind: buyer.Kind(), buyerID: buyer.ID(), packageID: packageID}
	if balance, ok := t.st.balances[key]; ok {
		balance.SessionsRemaining += sessions
		t.st.balances[key] = balance
		return balance, false, nil
	}
	balance := domain.SessionBalance{
		ID:                t.st.next("session_balances"),
		Buyer:             buyer,
		PackageID:         packageID,
		SessionsRemaining: sessions,
		StartDate:         domain.DateOf(startDate),
	}
	t.st.balances[key] = balance
	return balance, true, nil
}

func (t *memTx) AddDailySales(_ context.Context, date time.Time, employeeID int64, amount decimal.Decimal, count int) (domain.DailyAggregate, error) {
	key := aggregateKey{date: dateKey(date), employeeID: employeeID}
	agg, ok := t.st.aggregates[key]
	if !ok {
		agg = domain.DailyAggregate{
			Date:        domain.DateOf(date),
			EmployeeID:  employeeID,
			TotalAmount: decimal.Zero,
		}
	}
	agg.TotalAmount = agg.TotalAmount.Add(amount)
	agg.TransactionCount += count
	t.st.aggregates[key] = agg
	return agg, nil
}

func (t *memTx) GetPurchaseOrderForUpdate(_ context.Context, id int64) (*domain.PurchaseOrder, error) {
	po, ok := t.st.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (t *memTx) MarkPurchaseOrderSent(_ context.Context, id int64, at time.Time, by string) error {
	po, ok := t.st.purchaseOrders[id]
	if !ok {
		return store.ErrNotFound
	}
	if po.SentToInventory {
		return store.ErrConflict
	}
	sentAt := at
	po.SentToInventory = true
	po.SentToInventoryAt = &sentAt
	po.SentToInventoryBy = by
	t.st.purchaseOrders[id] = po
	return nil
}

func (t *memTx) DeletePurchaseOrder(_ context.Context, id int64) error {
	if _, ok := t.st.purchaseOrders[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.purchaseOrders, id)
	return nil
}
