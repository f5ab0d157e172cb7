package domain

import (
	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	EmployeeID  int64  `json:"employee_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type ProductCreateRequest struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
}

type EquipmentCreateRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type PackageCreateRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Duration string          `json:"duration"`
}

type SupplierCreateRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Products         string `json:"products"`
	DeliverySchedule string `json:"delivery_schedule"`
}

type PersonCreateRequest struct {
	Name string `json:"name"`
}

type CheckoutLineRequest struct {
	Item     ItemRef         `json:"item"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type CheckoutRequest struct {
	Items          []CheckoutLineRequest `json:"items"`
	Buyer          BuyerRef              `json:"buyer"`
	PaymentMethod  string                `json:"payment_method"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type CheckoutResponse struct {
	Result  Result   `json:"result"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

type PurchaseOrderLineRequest struct {
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PurchaseOrderCreateRequest struct {
	Number         string                     `json:"po_number"`
	SupplierID     int64                      `json:"supplier_id"`
	Category       CatalogKind                `json:"category"`
	ShippingStatus ShippingStatus             `json:"shipping_status"`
	PaymentStatus  PaymentStatus              `json:"payment_status"`
	Tax            decimal.Decimal            `json:"tax"`
	Items          []PurchaseOrderLineRequest `json:"items"`
}

// PurchaseOrderStatusRequest changes either status; omitted fields keep their
// current value.
type PurchaseOrderStatusRequest struct {
	ShippingStatus *ShippingStatus `json:"shipping_status"`
	PaymentStatus  *PaymentStatus  `json:"payment_status"`
}

func (s ShippingStatus) Valid() bool {
	switch s {
	case ShippingPending, ShippingShipped, ShippingDelivered, ShippingCancelled:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPartial, PaymentPaid:
		return true
	default:
		return false
	}
}

func (k CatalogKind) Valid() bool {
	return k == CatalogProduct || k == CatalogEquipment
}
