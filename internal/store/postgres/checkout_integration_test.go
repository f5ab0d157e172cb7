package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/checkout"
	"ahontrack/backend/internal/domain"
)

type checkoutFixture struct {
	store   *Store
	engine  *checkout.Engine
	actor   domain.Actor
	product *domain.Product
	buyer   domain.BuyerRef
	now     time.Time
}

func newCheckoutFixture(t *testing.T, stock int) checkoutFixture {
	t.Helper()
	s := openTestStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	employee, err := s.CreateEmployee(ctx, domain.Employee{
		Username:     fmt.Sprintf("it-rush-%d", stamp),
		PasswordHash: "x",
		Role:         domain.RoleCashier,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:   fmt.Sprintf("IT Chalk Ball %d", stamp),
		Price:  decimal.RequireFromString("90.00"),
		Stock:  stock,
		Status: domain.StatusForStock(stock, domain.DefaultLowStockThreshold),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	walkIn, err := s.CreateWalkIn(ctx, domain.WalkIn{Name: "IT Rush Hour"})
	if err != nil {
		t.Fatalf("create walk-in: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE employee_id = $1`, employee.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM daily_sales WHERE employee_id = $1`, employee.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM walk_ins WHERE id = $1`, walkIn.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, employee.ID)
	})

	now := time.Now().UTC()
	return checkoutFixture{
		store:   s,
		engine:  checkout.NewEngine(s, checkout.Options{Now: func() time.Time { return now }}),
		actor:   domain.Actor{EmployeeID: employee.ID, Username: employee.Username, Role: domain.RoleCashier},
		product: product,
		buyer:   domain.WalkInBuyer(walkIn.ID),
		now:     now,
	}
}

func (f checkoutFixture) request(key string) checkout.Request {
	return checkout.Request{
		Lines:          []checkout.Line{{Item: domain.ProductItem(f.product.ID), UnitPrice: decimal.RequireFromString("90.00"), Quantity: 1}},
		Buyer:          f.buyer,
		IdempotencyKey: key,
	}
}

func TestConcurrentCheckoutsLockStockRows(t *testing.T) {
	const stock, buyers = 10, 20
	f := newCheckoutFixture(t, stock)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ProcessCheckout(ctx, f.request(""), f.actor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	if successes != stock {
		t.Fatalf("expected %d successful checkouts, got %d (failures %v)", stock, successes, failures)
	}
	for _, err := range failures {
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected only stock failures, got %v", err)
		}
	}

	reloaded, err := f.store.GetProduct(ctx, f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if reloaded.Stock != 0 || reloaded.Status != domain.StatusOutOfStock {
		t.Fatalf("expected stock 0, got %d %s", reloaded.Stock, reloaded.Status)
	}
	agg, err := f.store.GetDailyAggregate(ctx, f.now, f.actor.EmployeeID)
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.TransactionCount != stock || !agg.TotalAmount.Equal(decimal.RequireFromString("900.00")) {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestConcurrentSameKeyCheckoutsRecordOnce(t *testing.T) {
	f := newCheckoutFixture(t, 10)
	ctx := context.Background()
	key := fmt.Sprintf("it-till-%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	receipts := make([]domain.Receipt, 4)
	errs := make([]error, len(receipts))
	for i := range receipts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = f.engine.ProcessCheckout(ctx, f.request(key), f.actor)
		}(i)
	}
	wg.Wait()

	originals := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		if receipts[i].ReceiptNo != receipts[0].ReceiptNo {
			t.Fatalf("expected one receipt, got %s and %s", receipts[0].ReceiptNo, receipts[i].ReceiptNo)
		}
		if !receipts[i].Duplicate {
			originals++
		}
	}
	if originals != 1 {
		t.Fatalf("expected exactly one original receipt, got %d", originals)
	}

	reloaded, err := f.store.GetProduct(ctx, f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if reloaded.Stock != 9 {
		t.Fatalf("expected stock decremented once to 9, got %d", reloaded.Stock)
	}
}
