package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Repository is the catalog and ledger store. Multi-row workflows run
// through WithTx; everything else is a single statement.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateEquipment(ctx context.Context, equipment domain.Equipment) (*domain.Equipment, error)
	ListEquipment(ctx context.Context) ([]domain.Equipment, error)
	CreatePackage(ctx context.Context, pkg domain.Package) (*domain.Package, error)
	ListPackages(ctx context.Context) ([]domain.Package, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateMember(ctx context.Context, member domain.Member) (*domain.Member, error)
	CreateWalkIn(ctx context.Context, walkIn domain.WalkIn) (*domain.WalkIn, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id int64) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, limit int) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, id int64, shipping domain.ShippingStatus, payment domain.PaymentStatus) (*domain.PurchaseOrder, error)

	ListSalesByReceipt(ctx context.Context, receiptNo string) ([]domain.Sale, error)
	ListSessionBalances(ctx context.Context, buyer domain.BuyerRef) ([]domain.SessionBalance, error)
	GetDailyAggregate(ctx context.Context, date time.Time, employeeID int64) (*domain.DailyAggregate, error)
	ListDailyAggregates(ctx context.Context, date time.Time) ([]domain.DailyAggregate, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error)
}

// Tx is the set of reads and writes available inside one atomic unit of
// work. Reads of rows that the caller later writes lock those rows until the
// transaction ends.
type Tx interface {
	BuyerExists(ctx context.Context, buyer domain.BuyerRef) (bool, error)

	GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	UpdateProductStock(ctx context.Context, id int64, stock int, status domain.StockStatus) error
	FindEquipmentByName(ctx context.Context, name string) (*domain.Equipment, error)
	UpdateEquipmentQuantity(ctx context.Context, id int64, quantity int, status domain.StockStatus) error
	GetPackage(ctx context.Context, id int64) (*domain.Package, error)
	GetSupplierForUpdate(ctx context.Context, id int64) (*domain.Supplier, error)
	UpdateSupplierProducts(ctx context.Context, id int64, products string) error

	FindReceiptByIdempotencyKey(ctx context.Context, key string) (*domain.Receipt, error)
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	InsertReceipt(ctx context.Context, receipt domain.Receipt) error
	// AddSessions credits sessions to the (buyer, package) balance, creating
	// it with startDate when absent. created reports which branch ran.
	AddSessions(ctx context.Context, buyer domain.BuyerRef, packageID int64, sessions int, startDate time.Time) (balance domain.SessionBalance, created bool, err error)
	AddDailySales(ctx context.Context, date time.Time, employeeID int64, amount decimal.Decimal, count int) (domain.DailyAggregate, error)

	GetPurchaseOrderForUpdate(ctx context.Context, id int64) (*domain.PurchaseOrder, error)
	// MarkPurchaseOrderSent returns ErrConflict when the order was already
	// sent.
	MarkPurchaseOrderSent(ctx context.Context, id int64, at time.Time, by string) error
	DeletePurchaseOrder(ctx context.Context, id int64) error
}
