package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/notify"
	"ahontrack/backend/internal/store"
	"ahontrack/backend/internal/store/memory"
)

type recordedAudit struct {
	action   string
	entityID string
}

type fakeAuditor struct {
	entries []recordedAudit
}

func (a *fakeAuditor) Log(_ context.Context, _ domain.Actor, action string, _ string, entityID string, _ string) {
	a.entries = append(a.entries, recordedAudit{action: action, entityID: entityID})
}

type fakeNotifier struct {
	got []notify.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note notify.Notification) {
	n.got = append(n.got, note)
}

var (
	cashier = domain.Actor{EmployeeID: 3, Username: "cashier", Role: domain.RoleCashier}
	fixedAt = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo     *memory.Store
	engine   *Engine
	audit    *fakeAuditor
	notifier *fakeNotifier
	tumbler  *domain.Product
	shaker   *domain.Product
	monthly  *domain.Package
	dayPass  *domain.Package
	member   domain.BuyerRef
	walkIn   domain.BuyerRef
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()

	tumbler, err := repo.CreateProduct(ctx, domain.Product{Name: "Tumbler", Price: decimal.RequireFromString("235.00"), Stock: 10, Status: domain.StatusLowStock})
	if err != nil {
		t.Fatalf("create tumbler: %v", err)
	}
	shaker, err := repo.CreateProduct(ctx, domain.Product{Name: "Shaker", Price: decimal.RequireFromString("150.00"), Stock: 1, Status: domain.StatusLowStock})
	if err != nil {
		t.Fatalf("create shaker: %v", err)
	}
	monthly, err := repo.CreatePackage(ctx, domain.Package{Name: "Monthly", Price: decimal.RequireFromString("1500.00"), Duration: "monthly"})
	if err != nil {
		t.Fatalf("create monthly: %v", err)
	}
	dayPass, err := repo.CreatePackage(ctx, domain.Package{Name: "Day Pass", Price: decimal.RequireFromString("100.00"), Duration: "one-time"})
	if err != nil {
		t.Fatalf("create day pass: %v", err)
	}
	member, err := repo.CreateMember(ctx, domain.Member{Name: "Ana"})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	var walkIn *domain.WalkIn
	for i := 0; i < 7; i++ {
		walkIn, err = repo.CreateWalkIn(ctx, domain.WalkIn{Name: fmt.Sprintf("Guest %d", i+1)})
		if err != nil {
			t.Fatalf("create walk-in: %v", err)
		}
	}

	auditor := &fakeAuditor{}
	notifier := &fakeNotifier{}
	engine := NewEngine(repo, Options{
		SessionPlan:       NewSessionPlan(nil),
		LowStockThreshold: domain.DefaultLowStockThreshold,
		Audit:             auditor,
		Notifier:          notifier,
		Now:               func() time.Time { return fixedAt },
	})
	return fixture{
		repo:     repo,
		engine:   engine,
		audit:    auditor,
		notifier: notifier,
		tumbler:  tumbler,
		shaker:   shaker,
		monthly:  monthly,
		dayPass:  dayPass,
		member:   domain.MemberBuyer(member.ID),
		walkIn:   domain.WalkInBuyer(walkIn.ID),
	}
}

func TestTumblerCheckoutForWalkIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if f.walkIn.ID() != 7 {
		t.Fatalf("expected walk-in #7, got %d", f.walkIn.ID())
	}

	receipt, err := f.engine.ProcessCheckout(ctx, Request{
		Lines: []Line{{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: 2}},
		Buyer: f.walkIn,
	}, cashier)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if !receipt.TotalAmount.Equal(decimal.RequireFromString("470.00")) || receipt.TransactionCount != 1 || len(receipt.SaleIDs) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	sales, err := f.repo.ListSalesByReceipt(ctx, receipt.ReceiptNo)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || !sales[0].Amount.Equal(decimal.RequireFromString("470.00")) {
		t.Fatalf("unexpected sales %+v", sales)
	}
	if sales[0].Item.ProductID() != f.tumbler.ID || sales[0].Item.PackageID() != 0 {
		t.Fatalf("sale item must reference only the product: %+v", sales[0].Item)
	}
	if sales[0].Buyer.WalkInID() != 7 || sales[0].Buyer.MemberID() != 0 {
		t.Fatalf("sale buyer must reference only the walk-in: %+v", sales[0].Buyer)
	}

	product, _ := f.repo.GetProduct(ctx, f.tumbler.ID)
	if product.Stock != 8 || product.Status != domain.StatusLowStock {
		t.Fatalf("expected stock 8 and low status, got %d %s", product.Stock, product.Status)
	}

	agg, err := f.repo.GetDailyAggregate(ctx, fixedAt, 3)
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if !agg.TotalAmount.Equal(decimal.RequireFromString("470.00")) || agg.TransactionCount != 1 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}

	if len(f.audit.entries) != 1 || f.audit.entries[0].action != "checkout" || f.audit.entries[0].entityID != receipt.ReceiptNo {
		t.Fatalf("unexpected audit entries %+v", f.audit.entries)
	}
	if len(f.notifier.got) == 0 || f.notifier.got[0].Level != notify.LevelInfo {
		t.Fatalf("expected a success notification, got %+v", f.notifier.got)
	}
}

func TestInsufficientStockRollsBackEveryLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ProcessCheckout(ctx, Request{
		Lines: []Line{
			{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: 2},
			{Item: domain.PackageItem(f.monthly.ID), UnitPrice: decimal.RequireFromString("1500.00"), Quantity: 1},
			{Item: domain.ProductItem(f.shaker.ID), UnitPrice: decimal.RequireFromString("150.00"), Quantity: 3},
			{Item: domain.PackageItem(f.dayPass.ID), UnitPrice: decimal.RequireFromString("100.00"), Quantity: 1},
		},
		Buyer: f.member,
	}, cashier)

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Item != "Shaker" || stockErr.Available != 1 || stockErr.Required != 3 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}

	tumbler, _ := f.repo.GetProduct(ctx, f.tumbler.ID)
	shaker, _ := f.repo.GetProduct(ctx, f.shaker.ID)
	if tumbler.Stock != 10 || shaker.Stock != 1 {
		t.Fatalf("stock changed after rollback: tumbler=%d shaker=%d", tumbler.Stock, shaker.Stock)
	}
	balances, _ := f.repo.ListSessionBalances(ctx, f.member)
	if len(balances) != 0 {
		t.Fatalf("session balances changed after rollback: %+v", balances)
	}
	if _, err := f.repo.GetDailyAggregate(ctx, fixedAt, cashier.EmployeeID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no aggregate after rollback, got %v", err)
	}

	if len(f.audit.entries) != 1 || f.audit.entries[0].action != "checkout.failed" {
		t.Fatalf("expected a failure audit entry, got %+v", f.audit.entries)
	}
	if len(f.notifier.got) != 1 || f.notifier.got[0].Level != notify.LevelError {
		t.Fatalf("expected an error notification, got %+v", f.notifier.got)
	}
}

func TestSessionAccrualUpdatesSingleBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy := func(qty int) {
		t.Helper()
		_, err := f.engine.ProcessCheckout(ctx, Request{
			Lines: []Line{{Item: domain.PackageItem(f.monthly.ID), UnitPrice: decimal.RequireFromString("1500.00"), Quantity: qty}},
			Buyer: f.member,
		}, cashier)
		if err != nil {
			t.Fatalf("checkout qty %d: %v", qty, err)
		}
	}

	buy(2)
	balances, _ := f.repo.ListSessionBalances(ctx, f.member)
	if len(balances) != 1 || balances[0].SessionsRemaining != 60 {
		t.Fatalf("expected one balance of 60, got %+v", balances)
	}
	if !balances[0].StartDate.Equal(domain.DateOf(fixedAt)) {
		t.Fatalf("expected start date %v, got %v", domain.DateOf(fixedAt), balances[0].StartDate)
	}

	buy(1)
	balances, _ = f.repo.ListSessionBalances(ctx, f.member)
	if len(balances) != 1 || balances[0].SessionsRemaining != 90 {
		t.Fatalf("expected one balance of 90, got %+v", balances)
	}
}

func TestAggregateUpsertsAcrossCheckouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, qty := range []int{1, 3} {
		_, err := f.engine.ProcessCheckout(ctx, Request{
			Lines: []Line{{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: qty}},
			Buyer: f.walkIn,
		}, cashier)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
	}

	aggs, err := f.repo.ListDailyAggregates(ctx, fixedAt)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected one aggregate row, got %d", len(aggs))
	}
	if !aggs[0].TotalAmount.Equal(decimal.RequireFromString("940.00")) || aggs[0].TransactionCount != 2 {
		t.Fatalf("unexpected aggregate %+v", aggs[0])
	}
}

func TestIdempotencyKeyReturnsExistingReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{
		Lines:          []Line{{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: 1}},
		Buyer:          f.walkIn,
		IdempotencyKey: "till-1-0001",
	}

	first, err := f.engine.ProcessCheckout(ctx, req, cashier)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := f.engine.ProcessCheckout(ctx, req, cashier)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if !second.Duplicate || second.ReceiptNo != first.ReceiptNo {
		t.Fatalf("expected duplicate of %s, got %+v", first.ReceiptNo, second)
	}
	product, _ := f.repo.GetProduct(ctx, f.tumbler.ID)
	if product.Stock != 9 {
		t.Fatalf("expected stock decremented once to 9, got %d", product.Stock)
	}
}

func TestValidationRejectsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := Line{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: 1}

	cases := []struct {
		name  string
		req   Request
		actor domain.Actor
		want  error
	}{
		{name: "empty cart", req: Request{Buyer: f.walkIn}, actor: cashier, want: ErrEmptyCart},
		{name: "no buyer", req: Request{Lines: []Line{line}}, actor: cashier, want: ErrNoBuyerSelected},
		{name: "zero quantity", req: Request{Lines: []Line{{Item: line.Item, UnitPrice: line.UnitPrice}}, Buyer: f.walkIn}, actor: cashier, want: ErrInvalidLine},
		{name: "negative price", req: Request{Lines: []Line{{Item: line.Item, UnitPrice: decimal.NewFromInt(-1), Quantity: 1}}, Buyer: f.walkIn}, actor: cashier, want: ErrInvalidLine},
		{name: "sub-cent price", req: Request{Lines: []Line{{Item: line.Item, UnitPrice: decimal.RequireFromString("0.125"), Quantity: 1}}, Buyer: f.walkIn}, actor: cashier, want: ErrInvalidLine},
		{name: "missing item", req: Request{Lines: []Line{{UnitPrice: line.UnitPrice, Quantity: 1}}, Buyer: f.walkIn}, actor: cashier, want: ErrInvalidLine},
		{name: "anonymous actor", req: Request{Lines: []Line{line}, Buyer: f.walkIn}, actor: domain.Actor{Role: domain.RoleCashier}, want: ErrNotAuthorized},
		{name: "unknown role", req: Request{Lines: []Line{line}, Buyer: f.walkIn}, actor: domain.Actor{EmployeeID: 9, Role: "trainer"}, want: ErrNotAuthorized},
		{name: "unknown buyer", req: Request{Lines: []Line{line}, Buyer: domain.MemberBuyer(404)}, actor: cashier, want: ErrBuyerNotFound},
		{name: "unknown product", req: Request{Lines: []Line{{Item: domain.ProductItem(404), Quantity: 1}}, Buyer: f.walkIn}, actor: cashier, want: ErrProductNotFound},
		{name: "unknown package", req: Request{Lines: []Line{{Item: domain.PackageItem(404), Quantity: 1}}, Buyer: f.walkIn}, actor: cashier, want: ErrPackageNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.ProcessCheckout(ctx, tc.req, tc.actor)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	product, _ := f.repo.GetProduct(ctx, f.tumbler.ID)
	if product.Stock != 10 {
		t.Fatalf("expected untouched stock, got %d", product.Stock)
	}
}

func TestSellingLastUnitMarksOutOfStockAndWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ProcessCheckout(ctx, Request{
		Lines: []Line{{Item: domain.ProductItem(f.shaker.ID), UnitPrice: decimal.RequireFromString("150.00"), Quantity: 1}},
		Buyer: f.member,
	}, cashier)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	product, _ := f.repo.GetProduct(ctx, f.shaker.ID)
	if product.Stock != 0 || product.Status != domain.StatusOutOfStock {
		t.Fatalf("expected out of stock, got %d %s", product.Stock, product.Status)
	}
	last := f.notifier.got[len(f.notifier.got)-1]
	if last.Level != notify.LevelWarning || last.Title != "Low stock" {
		t.Fatalf("expected low stock warning, got %+v", last)
	}
}

func TestSessionPlan(t *testing.T) {
	plan := NewSessionPlan(map[string]int{"Quarterly": 90, "monthly": 31})
	cases := map[string]int{
		"one-time":  1,
		"Monthly":   31,
		"quarterly": 90,
		"weekly":    1,
		"":          1,
	}
	for code, want := range cases {
		if got := plan.SessionsFor(code); got != want {
			t.Fatalf("SessionsFor(%q) = %d, want %d", code, got, want)
		}
	}
	var zero SessionPlan
	if zero.SessionsFor("monthly") != 30 {
		t.Fatalf("zero plan must still know the built-in codes")
	}
}

func TestDescribe(t *testing.T) {
	msg := Describe(&domain.InsufficientStockError{Item: "Tumbler", Available: 1, Required: 2})
	if msg != "Not enough stock for Tumbler: only 1 left, 2 requested." {
		t.Fatalf("unexpected message %q", msg)
	}
	if Describe(errors.New("connection reset")) != "Checkout failed. Nothing was recorded; please try again." {
		t.Fatalf("persistence errors must not leak details")
	}
}

func TestSaleAmountIsPriceTimesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.engine.ProcessCheckout(ctx, Request{
		Lines: []Line{{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("12.500"), Quantity: 3}},
		Buyer: f.walkIn,
	}, cashier)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	sales, err := f.repo.ListSalesByReceipt(ctx, receipt.ReceiptNo)
	if err != nil || len(sales) != 1 {
		t.Fatalf("list sales: %v %+v", err, sales)
	}
	sale := sales[0]
	if !sale.UnitPrice.Equal(sale.UnitPrice.Round(2)) {
		t.Fatalf("unit price must be stored in cents, got %s", sale.UnitPrice)
	}
	if !sale.Amount.Equal(sale.UnitPrice.Mul(decimal.NewFromInt(int64(sale.Quantity)))) {
		t.Fatalf("amount %s != %s x %d", sale.Amount, sale.UnitPrice, sale.Quantity)
	}
	if !sale.Amount.Equal(decimal.RequireFromString("37.50")) {
		t.Fatalf("expected 37.50, got %s", sale.Amount)
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	const stock, buyers = 10, 20

	product, err := repo.CreateProduct(ctx, domain.Product{Name: "Chalk Ball", Price: decimal.RequireFromString("90.00"), Stock: stock, Status: domain.StatusInStock})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	walkIn, err := repo.CreateWalkIn(ctx, domain.WalkIn{Name: "Rush Hour"})
	if err != nil {
		t.Fatalf("create walk-in: %v", err)
	}
	engine := NewEngine(repo, Options{Now: func() time.Time { return fixedAt }})

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
			_, err := engine.ProcessCheckout(ctx, Request{
				Lines: []Line{{Item: domain.ProductItem(product.ID), UnitPrice: decimal.RequireFromString("90.00"), Quantity: 1}},
				Buyer: domain.WalkInBuyer(walkIn.ID),
			}, cashier)
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
		t.Fatalf("expected %d successful checkouts, got %d", stock, successes)
	}
	for _, err := range failures {
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected only stock failures, got %v", err)
		}
	}
	reloaded, _ := repo.GetProduct(ctx, product.ID)
	if reloaded.Stock != 0 || reloaded.Status != domain.StatusOutOfStock {
		t.Fatalf("expected stock 0, got %d %s", reloaded.Stock, reloaded.Status)
	}
	agg, err := repo.GetDailyAggregate(ctx, fixedAt, cashier.EmployeeID)
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.TransactionCount != stock || !agg.TotalAmount.Equal(decimal.RequireFromString("900.00")) {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

// racingRepo lets another checkout commit with the same idempotency key
// between this checkout's key lookup and its receipt insert.
type racingRepo struct {
	*memory.Store
	once   sync.Once
	before func()
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	first := false
	r.once.Do(func() {
		first = true
		r.before()
	})
	if !first {
		return r.Store.WithTx(ctx, fn)
	}
	return r.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(missedLookupTx{Tx: tx})
	})
}

type missedLookupTx struct {
	store.Tx
}

func (missedLookupTx) FindReceiptByIdempotencyKey(context.Context, string) (*domain.Receipt, error) {
	return nil, store.ErrNotFound
}

func TestConcurrentSameKeyCheckoutReplaysWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{
		Lines:          []Line{{Item: domain.ProductItem(f.tumbler.ID), UnitPrice: decimal.RequireFromString("235.00"), Quantity: 1}},
		Buyer:          f.walkIn,
		IdempotencyKey: "till-2-0042",
	}

	var winner domain.Receipt
	repo := &racingRepo{Store: f.repo}
	repo.before = func() {
		var err error
		winner, err = f.engine.ProcessCheckout(ctx, req, cashier)
		if err != nil {
			t.Errorf("winning checkout: %v", err)
		}
	}
	loser := NewEngine(repo, Options{Now: func() time.Time { return fixedAt }})

	got, err := loser.ProcessCheckout(ctx, req, cashier)
	if err != nil {
		t.Fatalf("expected replay, got %v", err)
	}
	if !got.Duplicate || got.ReceiptNo != winner.ReceiptNo {
		t.Fatalf("expected duplicate of %s, got %+v", winner.ReceiptNo, got)
	}
	product, _ := f.repo.GetProduct(ctx, f.tumbler.ID)
	if product.Stock != 9 {
		t.Fatalf("expected stock decremented once to 9, got %d", product.Stock)
	}
}
