package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
	"ahontrack/backend/internal/xid"
)

// Store keeps the whole catalog and ledger in process memory. WithTx runs
// against a cloned copy of the state and swaps it in only when the callback
// succeeds, so a failed workflow leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type balanceKey struct {
	buyerKind domain.BuyerKind
	buyerID   int64
	packageID int64
}

type aggregateKey struct {
	date       string
	employeeID int64
}

type state struct {
	seq            map[string]int64
	products       map[int64]domain.Product
	equipment      map[int64]domain.Equipment
	packages       map[int64]domain.Package
	suppliers      map[int64]domain.Supplier
	members        map[int64]domain.Member
	walkIns        map[int64]domain.WalkIn
	employees      map[int64]domain.Employee
	sales          []domain.Sale
	receipts       map[string]domain.Receipt
	receiptsByIdem map[string]string
	balances       map[balanceKey]domain.SessionBalance
	aggregates     map[aggregateKey]domain.DailyAggregate
	purchaseOrders map[int64]domain.PurchaseOrder
	auditLogs      []domain.AuditLog
}

func newState() *state {
	return &state{
		seq:            make(map[string]int64),
		products:       make(map[int64]domain.Product),
		equipment:      make(map[int64]domain.Equipment),
		packages:       make(map[int64]domain.Package),
		suppliers:      make(map[int64]domain.Supplier),
		members:        make(map[int64]domain.Member),
		walkIns:        make(map[int64]domain.WalkIn),
		employees:      make(map[int64]domain.Employee),
		sales:          make([]domain.Sale, 0, 64),
		receipts:       make(map[string]domain.Receipt),
		receiptsByIdem: make(map[string]string),
		balances:       make(map[balanceKey]domain.SessionBalance),
		aggregates:     make(map[aggregateKey]domain.DailyAggregate),
		purchaseOrders: make(map[int64]domain.PurchaseOrder),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:            cloneMap(s.seq),
		products:       cloneMap(s.products),
		equipment:      cloneMap(s.equipment),
		packages:       cloneMap(s.packages),
		suppliers:      cloneMap(s.suppliers),
		members:        cloneMap(s.members),
		walkIns:        cloneMap(s.walkIns),
		employees:      cloneMap(s.employees),
		sales:          slices.Clone(s.sales),
		receipts:       make(map[string]domain.Receipt, len(s.receipts)),
		receiptsByIdem: cloneMap(s.receiptsByIdem),
		balances:       cloneMap(s.balances),
		aggregates:     cloneMap(s.aggregates),
		purchaseOrders: make(map[int64]domain.PurchaseOrder, len(s.purchaseOrders)),
		auditLogs:      s.auditLogs,
	}
	for k, v := range s.receipts {
		c.receipts[k] = cloneReceipt(v)
	}
	for k, v := range s.purchaseOrders {
		c.purchaseOrders[k] = clonePurchaseOrder(v)
	}
	return c
}

func (s *state) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func New() *Store {
	return &Store{state: newState()}
}

// seedEmployees builds the initial accounts for dev/demo mode. Passwords come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; dev defaults are used
// with a warning when they are unset. Production runs use Postgres.
func seedEmployees(st *state) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		id := st.next("employees")
		st.employees[id] = domain.Employee{
			ID:           id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo catalog, two buyers and two
// employee accounts.
func NewSeeded() *Store {
	st := newState()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{Name: "Tumbler", Category: "Merchandise", Price: decimal.RequireFromString("235.00"), Stock: 40},
		{Name: "Whey Protein 1kg", Category: "Supplements", Price: decimal.RequireFromString("1850.00"), Stock: 12},
		{Name: "Energy Drink", Category: "Beverages", Price: decimal.RequireFromString("65.00"), Stock: 96},
		{Name: "Resistance Band", Category: "Accessories", Price: decimal.RequireFromString("320.00"), Stock: 8},
	} {
		p.ID = st.next("products")
		p.Status = domain.StatusForStock(p.Stock, domain.DefaultLowStockThreshold)
		p.CreatedAt = now
		st.products[p.ID] = p
	}
	for _, e := range []domain.Equipment{
		{Name: "Treadmill", Quantity: 4},
		{Name: "Adjustable Dumbbell Set", Quantity: 10},
	} {
		e.ID = st.next("equipment")
		e.Status = domain.StatusForStock(e.Quantity, domain.DefaultLowStockThreshold)
		e.CreatedAt = now
		st.equipment[e.ID] = e
	}
	for _, pkg := range []domain.Package{
		{Name: "Day Pass", Price: decimal.RequireFromString("100.00"), Duration: "one-time"},
		{Name: "Monthly Membership", Price: decimal.RequireFromString("1500.00"), Duration: "monthly"},
	} {
		pkg.ID = st.next("packages")
		pkg.CreatedAt = now
		st.packages[pkg.ID] = pkg
	}
	supplierID := st.next("suppliers")
	st.suppliers[supplierID] = domain.Supplier{
		ID:               supplierID,
		Name:             "Iron Supply Co.",
		Products:         "Tumbler, Energy Drink",
		DeliverySchedule: "Every Monday",
		CreatedAt:        now,
	}
	memberID := st.next("members")
	st.members[memberID] = domain.Member{ID: memberID, Name: "Juan Dela Cruz", CreatedAt: now}
	walkInID := st.next("walk_ins")
	st.walkIns[walkInID] = domain.WalkIn{ID: walkInID, Name: "Guest", CreatedAt: now}
	seedEmployees(st)

	return &Store{state: st}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.state.clone()
	if err := fn(&memTx{st: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = domain.NormalizeName(product.Name)
	if product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.state.products {
		if existing.Name == product.Name {
			return nil, store.ErrConflict
		}
	}
	product.ID = s.state.next("products")
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.state.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.state.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) CreateEquipment(_ context.Context, equipment domain.Equipment) (*domain.Equipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	equipment.Name = domain.NormalizeName(equipment.Name)
	if equipment.Name == "" || equipment.Quantity < 0 {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.state.equipment {
		if existing.Name == equipment.Name {
			return nil, store.ErrConflict
		}
	}
	equipment.ID = s.state.next("equipment")
	if equipment.CreatedAt.IsZero() {
		equipment.CreatedAt = time.Now().UTC()
	}
	s.state.equipment[equipment.ID] = equipment
	return &equipment, nil
}

func (s *Store) ListEquipment(_ context.Context) ([]domain.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Equipment, 0, len(s.state.equipment))
	for _, e := range s.state.equipment {
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) CreatePackage(_ context.Context, pkg domain.Package) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg.Name = domain.NormalizeName(pkg.Name)
	if pkg.Name == "" || pkg.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	pkg.ID = s.state.next("packages")
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = time.Now().UTC()
	}
	s.state.packages[pkg.ID] = pkg
	return &pkg, nil
}

func (s *Store) ListPackages(_ context.Context) ([]domain.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Package, 0, len(s.state.packages))
	for _, p := range s.state.packages {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.state.suppliers {
		if strings.EqualFold(existing.Name, supplier.Name) {
			return nil, store.ErrConflict
		}
	}
	supplier.ID = s.state.next("suppliers")
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.state.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) GetSupplier(_ context.Context, id int64) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.state.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Supplier, 0, len(s.state.suppliers))
	for _, sup := range s.state.suppliers {
		items = append(items, sup)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) CreateMember(_ context.Context, member domain.Member) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member.Name = strings.TrimSpace(member.Name)
	if member.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	member.ID = s.state.next("members")
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	s.state.members[member.ID] = member
	return &member, nil
}

func (s *Store) CreateWalkIn(_ context.Context, walkIn domain.WalkIn) (*domain.WalkIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	walkIn.Name = strings.TrimSpace(walkIn.Name)
	if walkIn.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	walkIn.ID = s.state.next("walk_ins")
	if walkIn.CreatedAt.IsZero() {
		walkIn.CreatedAt = time.Now().UTC()
	}
	s.state.walkIns[walkIn.ID] = walkIn
	return &walkIn, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.Number == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.state.suppliers[po.SupplierID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.state.purchaseOrders {
		if existing.Number == po.Number {
			return nil, store.ErrConflict
		}
	}
	po.ID = s.state.next("purchase_orders")
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	items := make([]domain.PurchaseOrderLine, 0, len(po.Items))
	for _, item := range po.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		item.ID = s.state.next("purchase_order_items")
		items = append(items, item)
	}
	po.Items = items
	s.state.purchaseOrders[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id int64) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.state.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	items := make([]domain.PurchaseOrder, 0, len(s.state.purchaseOrders))
	for _, po := range s.state.purchaseOrders {
		items = append(items, clonePurchaseOrder(po))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) UpdatePurchaseOrderStatus(_ context.Context, id int64, shipping domain.ShippingStatus, payment domain.PaymentStatus) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.state.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	po.ShippingStatus = shipping
	po.PaymentStatus = payment
	s.state.purchaseOrders[id] = po
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) ListSalesByReceipt(_ context.Context, receiptNo string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 4)
	for _, sale := range s.state.sales {
		if sale.ReceiptNo == receiptNo {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) ListSessionBalances(_ context.Context, buyer domain.BuyerRef) ([]domain.SessionBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make([]domain.SessionBalance, 0, 4)
	for key, balance := range s.state.balances {
		if key.buyerKind == buyer.Kind() && key.buyerID == buyer.ID() {
			balances = append(balances, balance)
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].PackageID < balances[j].PackageID })
	return balances, nil
}

func (s *Store) GetDailyAggregate(_ context.Context, date time.Time, employeeID int64) (*domain.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.state.aggregates[aggregateKey{date: dateKey(date), employeeID: employeeID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &agg, nil
}

func (s *Store) ListDailyAggregates(_ context.Context, date time.Time) ([]domain.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := dateKey(date)
	items := make([]domain.DailyAggregate, 0, 4)
	for k, agg := range s.state.aggregates {
		if k.date == key {
			items = append(items, agg)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EmployeeID < items[j].EmployeeID })
	return items, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.state.auditLogs = append(s.state.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	items := make([]domain.AuditLog, 0, limit)
	for i := len(s.state.auditLogs) - 1; i >= 0 && len(items) < limit; i-- {
		entry := s.state.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		items = append(items, entry)
	}
	return items, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) (*domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	employee.Username = strings.ToLower(strings.TrimSpace(employee.Username))
	if employee.Username == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.state.employees {
		if existing.Username == employee.Username {
			return nil, store.ErrConflict
		}
	}
	employee.ID = s.state.next("employees")
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	s.state.employees[employee.ID] = employee
	return &employee, nil
}

func (s *Store) GetEmployeeByUsername(_ context.Context, username string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username = strings.ToLower(strings.TrimSpace(username))
	for _, employee := range s.state.employees {
		if employee.Username == username {
			out := employee
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	out := src
	out.Items = slices.Clone(src.Items)
	if src.SentToInventoryAt != nil {
		at := *src.SentToInventoryAt
		out.SentToInventoryAt = &at
	}
	return out
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	out := src
	out.SaleIDs = slices.Clone(src.SaleIDs)
	return out
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
