package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	EmployeeID int64  `json:"employee_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleCashier = "cashier"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Status    StockStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type Equipment struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	Status    StockStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type Package struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Duration  string          `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

type Supplier struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	Products         string    `json:"products"`
	DeliverySchedule string    `json:"delivery_schedule,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type Member struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type WalkIn struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CatalogItem is the stock-bearing projection shared by products and
// equipment.
type CatalogItem struct {
	Kind   CatalogKind `json:"kind"`
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Stock  int         `json:"stock"`
	Status StockStatus `json:"status"`
}

type CatalogKind string

const (
	CatalogProduct   CatalogKind = "product"
	CatalogEquipment CatalogKind = "equipment"
)

type Sale struct {
	ID            int64           `json:"id"`
	ReceiptNo     string          `json:"receipt_no"`
	Item          ItemRef         `json:"item"`
	Buyer         BuyerRef        `json:"buyer"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	RecordedBy    int64           `json:"recorded_by"`
	SoldAt        time.Time       `json:"sold_at"`
}

type Receipt struct {
	ReceiptNo        string          `json:"receipt_no"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Buyer            BuyerRef        `json:"buyer"`
	EmployeeID       int64           `json:"employee_id"`
	PaymentMethod    string          `json:"payment_method"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
	SaleIDs          []int64         `json:"sale_ids"`
	Duplicate        bool            `json:"duplicate"`
	CreatedAt        time.Time       `json:"created_at"`
}

type SessionBalance struct {
	ID                int64     `json:"id"`
	Buyer             BuyerRef  `json:"buyer"`
	PackageID         int64     `json:"package_id"`
	SessionsRemaining int       `json:"sessions_remaining"`
	StartDate         time.Time `json:"start_date"`
}

type DailyAggregate struct {
	Date             time.Time       `json:"date"`
	EmployeeID       int64           `json:"employee_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
}

type ShippingStatus string

const (
	ShippingPending   ShippingStatus = "Pending"
	ShippingShipped   ShippingStatus = "Shipped"
	ShippingDelivered ShippingStatus = "Delivered"
	ShippingCancelled ShippingStatus = "Cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "Unpaid"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

type PurchaseOrder struct {
	ID                int64               `json:"id"`
	Number            string              `json:"po_number"`
	SupplierID        int64               `json:"supplier_id"`
	Category          CatalogKind         `json:"category"`
	ShippingStatus    ShippingStatus      `json:"shipping_status"`
	PaymentStatus     PaymentStatus       `json:"payment_status"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	Tax               decimal.Decimal     `json:"tax"`
	Total             decimal.Decimal     `json:"total"`
	SentToInventory   bool                `json:"sent_to_inventory"`
	SentToInventoryAt *time.Time          `json:"sent_to_inventory_at,omitempty"`
	SentToInventoryBy string              `json:"sent_to_inventory_by,omitempty"`
	CreatedBy         int64               `json:"created_by"`
	CreatedAt         time.Time           `json:"created_at"`
	Items             []PurchaseOrderLine `json:"items"`
}

// CanSendToInventory reports whether the goods have arrived and been paid
// for.
func (po PurchaseOrder) CanSendToInventory() bool {
	return po.ShippingStatus == ShippingDelivered && po.PaymentStatus == PaymentPaid
}

type PurchaseOrderLine struct {
	ID        int64           `json:"id"`
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Employee struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Result is what the presentation layer shows after a workflow runs.
type Result struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	ReceiptNo    string   `json:"receipt_no,omitempty"`
	SaleIDs      []int64  `json:"sale_ids,omitempty"`
	MissingItems []string `json:"missing_items,omitempty"`
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
