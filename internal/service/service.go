package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/checkout"
	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/fulfillment"
	"ahontrack/backend/internal/store"
)

// ErrForbidden is returned when the actor's role may not run an operation.
var ErrForbidden = errors.New("role not permitted")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Auditor interface {
	Log(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string)
}

type Options struct {
	Checkout          *checkout.Engine
	Fulfillment       *fulfillment.Engine
	Audit             Auditor
	LowStockThreshold int
	Location          *time.Location
}

// Service is the facade the HTTP layer talks to. It resolves the acting
// employee from the request context and hands the two workflows to their
// engines; everything else is catalog bookkeeping and read models.
type Service struct {
	repo        store.Repository
	checkout    *checkout.Engine
	fulfillment *fulfillment.Engine
	audit       Auditor
	lowStock    int
	loc         *time.Location
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LowStockThreshold < 0 {
		opts.LowStockThreshold = domain.DefaultLowStockThreshold
	}
	return &Service{
		repo:        repo,
		checkout:    opts.Checkout,
		fulfillment: opts.Fulfillment,
		audit:       opts.Audit,
		lowStock:    opts.LowStockThreshold,
		loc:         opts.Location,
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = domain.NormalizeName(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Price.IsNegative() || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:     req.Name,
		Category: req.Category,
		Price:    req.Price.Round(2),
		Stock:    req.Stock,
		Status:   domain.StatusForStock(req.Stock, s.lowStock),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor, "product.create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.Stock))
	return *created, nil
}

func (s *Service) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	return s.repo.ListEquipment(ctx)
}

func (s *Service) CreateEquipment(ctx context.Context, req domain.EquipmentCreateRequest) (domain.Equipment, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
	if err != nil {
		return domain.Equipment{}, err
	}

	req.Name = domain.NormalizeName(req.Name)
	if req.Name == "" || req.Quantity < 0 {
		return domain.Equipment{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateEquipment(ctx, domain.Equipment{
		Name:     req.Name,
		Quantity: req.Quantity,
		Status:   domain.StatusForStock(req.Quantity, s.lowStock),
	})
	if err != nil {
		return domain.Equipment{}, err
	}

	s.logAudit(ctx, actor, "equipment.create", "equipment", created.ID, fmt.Sprintf("name=%s,quantity=%d", created.Name, created.Quantity))
	return *created, nil
}

func (s *Service) ListPackages(ctx context.Context) ([]domain.Package, error) {
	return s.repo.ListPackages(ctx)
}

func (s *Service) CreatePackage(ctx context.Context, req domain.PackageCreateRequest) (domain.Package, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Package{}, err
	}

	req.Name = domain.NormalizeName(req.Name)
	req.Duration = strings.ToLower(strings.TrimSpace(req.Duration))
	if req.Name == "" || req.Duration == "" || req.Price.IsNegative() {
		return domain.Package{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreatePackage(ctx, domain.Package{
		Name:     req.Name,
		Price:    req.Price.Round(2),
		Duration: req.Duration,
	})
	if err != nil {
		return domain.Package{}, err
	}

	s.logAudit(ctx, actor, "package.create", "package", created.ID,
		fmt.Sprintf("name=%s,price=%s,duration=%s", created.Name, created.Price.StringFixed(2), created.Duration))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
	if err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:             req.Name,
		Phone:            strings.TrimSpace(req.Phone),
		Products:         fulfillment.MergeProducts("", fulfillment.SplitProducts(req.Products)),
		DeliverySchedule: strings.TrimSpace(req.DeliverySchedule),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, actor, "supplier.create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) CreateMember(ctx context.Context, req domain.PersonCreateRequest) (domain.Member, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff, domain.RoleCashier)
	if err != nil {
		return domain.Member{}, err
	}
	name := domain.NormalizeName(req.Name)
	if name == "" {
		return domain.Member{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateMember(ctx, domain.Member{Name: name})
	if err != nil {
		return domain.Member{}, err
	}
	s.logAudit(ctx, actor, "member.create", "member", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) CreateWalkIn(ctx context.Context, req domain.PersonCreateRequest) (domain.WalkIn, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff, domain.RoleCashier)
	if err != nil {
		return domain.WalkIn{}, err
	}
	name := domain.NormalizeName(req.Name)
	if name == "" {
		return domain.WalkIn{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateWalkIn(ctx, domain.WalkIn{Name: name})
	if err != nil {
		return domain.WalkIn{}, err
	}
	s.logAudit(ctx, actor, "walk_in.create", "walk_in", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

// Checkout records a cart through the checkout engine. The response always
// carries a presentation Result; err is also returned so callers can pick a
// status code.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CheckoutResponse{Result: CheckoutResult(domain.Receipt{}, checkout.ErrNotAuthorized)}, checkout.ErrNotAuthorized
	}

	lines := make([]checkout.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, checkout.Line{Item: item.Item, UnitPrice: item.Price, Quantity: item.Quantity})
	}

	receipt, err := s.checkout.ProcessCheckout(ctx, checkout.Request{
		Lines:          lines,
		Buyer:          req.Buyer,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	}, actor)
	resp := domain.CheckoutResponse{Result: CheckoutResult(receipt, err)}
	if err != nil {
		return resp, err
	}
	resp.Receipt = &receipt
	return resp, nil
}

// CheckoutResult maps a checkout outcome to what the front desk sees.
func CheckoutResult(receipt domain.Receipt, err error) domain.Result {
	if err != nil {
		return domain.Result{Success: false, Message: checkout.Describe(err)}
	}
	message := fmt.Sprintf("Transaction recorded. Receipt %s, total %s.", receipt.ReceiptNo, receipt.TotalAmount.StringFixed(2))
	if receipt.Duplicate {
		message = fmt.Sprintf("Transaction was already recorded as receipt %s.", receipt.ReceiptNo)
	}
	return domain.Result{
		Success:   true,
		Message:   message,
		ReceiptNo: receipt.ReceiptNo,
		SaleIDs:   receipt.SaleIDs,
	}
}

func (s *Service) ListSalesByReceipt(ctx context.Context, receiptNo string) ([]domain.Sale, error) {
	receiptNo = strings.TrimSpace(receiptNo)
	if receiptNo == "" {
		return nil, store.ErrInvalidTransaction
	}
	return s.repo.ListSalesByReceipt(ctx, receiptNo)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	req.Number = strings.ToUpper(strings.TrimSpace(req.Number))
	if req.Category == "" {
		req.Category = domain.CatalogProduct
	}
	if req.ShippingStatus == "" {
		req.ShippingStatus = domain.ShippingPending
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = domain.PaymentUnpaid
	}
	if req.Number == "" || req.SupplierID < 1 || len(req.Items) == 0 || req.Tax.IsNegative() {
		return domain.PurchaseOrder{}, store.ErrInvalidTransaction
	}
	if !req.Category.Valid() || !req.ShippingStatus.Valid() || !req.PaymentStatus.Valid() {
		return domain.PurchaseOrder{}, store.ErrInvalidTransaction
	}

	subtotal := decimal.Zero
	lines := make([]domain.PurchaseOrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		name := domain.NormalizeName(item.ItemName)
		unit := strings.ToLower(strings.TrimSpace(item.Unit))
		if name == "" || item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return domain.PurchaseOrder{}, store.ErrInvalidTransaction
		}
		if unit == "" {
			unit = "pcs"
		}
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, domain.PurchaseOrderLine{
			ItemName:  name,
			Unit:      unit,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Round(2),
			LineTotal: lineTotal,
		})
	}
	tax := req.Tax.Round(2)

	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		Number:         req.Number,
		SupplierID:     req.SupplierID,
		Category:       req.Category,
		ShippingStatus: req.ShippingStatus,
		PaymentStatus:  req.PaymentStatus,
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal.Add(tax),
		CreatedBy:      actor.EmployeeID,
		CreatedAt:      time.Now().UTC(),
		Items:          lines,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, actor, "purchase_order.create", "purchase_order", saved.ID,
		fmt.Sprintf("po=%s,items=%d,total=%s", saved.Number, len(saved.Items), saved.Total.StringFixed(2)))
	return *saved, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (domain.PurchaseOrder, error) {
	if id < 1 {
		return domain.PurchaseOrder{}, store.ErrInvalidTransaction
	}
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPurchaseOrders(ctx, limit)
}

func (s *Service) UpdatePurchaseOrderStatus(ctx context.Context, id int64, req domain.PurchaseOrderStatusRequest) (domain.PurchaseOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStaff)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if id < 1 || (req.ShippingStatus == nil && req.PaymentStatus == nil) {
		return domain.PurchaseOrder{}, store.ErrInvalidTransaction
	}

	current, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	shipping, payment := current.ShippingStatus, current.PaymentStatus
	if req.ShippingStatus != nil {
		shipping = *req.ShippingStatus
	}
	if req.PaymentStatus != nil {
		payment = *req.PaymentStatus
	}
	if !shipping.Valid() || !payment.Valid() {
		return domain.PurchaseOrder{}, store.ErrInvalidTransaction
	}

	updated, err := s.repo.UpdatePurchaseOrderStatus(ctx, id, shipping, payment)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, actor, "purchase_order.status", "purchase_order", updated.ID,
		fmt.Sprintf("po=%s,shipping=%s->%s,payment=%s->%s", updated.Number, current.ShippingStatus, shipping, current.PaymentStatus, payment))
	return *updated, nil
}

type FulfillmentResponse struct {
	Result  domain.Result        `json:"result"`
	Summary *fulfillment.Summary `json:"summary,omitempty"`
}

// SendToInventory receives a delivered and paid purchase order into stock.
func (s *Service) SendToInventory(ctx context.Context, id int64) (FulfillmentResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return FulfillmentResponse{Result: FulfillmentResult(fulfillment.Summary{}, fulfillment.ErrNotAuthorized)}, fulfillment.ErrNotAuthorized
	}
	summary, err := s.fulfillment.SendToInventory(ctx, id, actor)
	resp := FulfillmentResponse{Result: FulfillmentResult(summary, err)}
	if err != nil {
		return resp, err
	}
	resp.Summary = &summary
	return resp, nil
}

// FulfillmentResult maps a send-to-inventory outcome to what the back office
// sees. Missing catalog items are listed so they can be created.
func FulfillmentResult(summary fulfillment.Summary, err error) domain.Result {
	if err != nil {
		result := domain.Result{Success: false, Message: fulfillment.Describe(err)}
		var missing *fulfillment.ItemsNotFoundError
		if errors.As(err, &missing) {
			result.MissingItems = missing.Names
		}
		return result
	}
	return domain.Result{
		Success: true,
		Message: fmt.Sprintf("Purchase order %s sent to inventory: %d item(s) updated.", summary.Number, len(summary.Transitions)),
	}
}

// DeletePurchaseOrder removes an order, first undoing its inventory effects
// when it had been received.
func (s *Service) DeletePurchaseOrder(ctx context.Context, id int64) (fulfillment.Reversal, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fulfillment.Reversal{}, fulfillment.ErrNotAuthorized
	}
	return s.fulfillment.ReverseFulfillment(ctx, id, actor)
}

func (s *Service) GetSessionBalances(ctx context.Context, buyer domain.BuyerRef) ([]domain.SessionBalance, error) {
	if buyer.IsZero() {
		return nil, store.ErrInvalidTransaction
	}
	return s.repo.ListSessionBalances(ctx, buyer)
}

func (s *Service) GetDailyAggregate(ctx context.Context, date string, employeeID int64) (domain.DailyAggregate, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return domain.DailyAggregate{}, err
	}
	if employeeID < 1 {
		actor, ok := ActorFromContext(ctx)
		if !ok {
			return domain.DailyAggregate{}, store.ErrInvalidTransaction
		}
		employeeID = actor.EmployeeID
	}

	agg, err := s.repo.GetDailyAggregate(ctx, day, employeeID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DailyAggregate{Date: day, EmployeeID: employeeID, TotalAmount: decimal.Zero}, nil
	}
	if err != nil {
		return domain.DailyAggregate{}, err
	}
	return *agg, nil
}

func (s *Service) ListDailyAggregates(ctx context.Context, date string) ([]domain.DailyAggregate, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDailyAggregates(ctx, day)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day.UTC()
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// parseDay reads a YYYY-MM-DD business date; empty means today in the
// business timezone.
func (s *Service) parseDay(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return domain.DateOf(time.Now().In(s.loc)), nil
	}
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return time.Time{}, store.ErrInvalidTransaction
	}
	return day, nil
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID int64, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Log(ctx, actor, action, entityType, fmt.Sprintf("%d", entityID), detail)
}
