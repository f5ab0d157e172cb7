package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
)

type Store struct {
	db        *sqlx.DB
	txTimeout time.Duration
}

// New opens the pool and pings it. txTimeout bounds every statement run
// inside WithTx; zero leaves the server default.
func New(ctx context.Context, databaseURL string, txTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, txTimeout: txTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if s.txTimeout > 0 {
		ms := strconv.FormatInt(s.txTimeout.Milliseconds(), 10)
		if _, err := tx.ExecContext(ctx, `SELECT set_config('statement_timeout', $1, true)`, ms); err != nil {
			return err
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

type productRow struct {
	ID        int64           `db:"id"`
	Name      string          `db:"name"`
	Category  string          `db:"category"`
	Price     decimal.Decimal `db:"price"`
	Stock     int             `db:"stock"`
	Status    string          `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:        r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Price:     r.Price,
		Stock:     r.Stock,
		Status:    domain.StockStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

type equipmentRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Quantity  int       `db:"quantity"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

func (r equipmentRow) toDomain() domain.Equipment {
	return domain.Equipment{
		ID:        r.ID,
		Name:      r.Name,
		Quantity:  r.Quantity,
		Status:    domain.StockStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

type supplierRow struct {
	ID               int64          `db:"id"`
	Name             string         `db:"name"`
	Phone            sql.NullString `db:"phone"`
	Products         string         `db:"products"`
	DeliverySchedule sql.NullString `db:"delivery_schedule"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r supplierRow) toDomain() domain.Supplier {
	return domain.Supplier{
		ID:               r.ID,
		Name:             r.Name,
		Phone:            r.Phone.String,
		Products:         r.Products,
		DeliverySchedule: r.DeliverySchedule.String,
		CreatedAt:        r.CreatedAt,
	}
}

const (
	productColumns   = `id, name, category, price, stock, status, created_at`
	equipmentColumns = `id, name, quantity, status, created_at`
	supplierColumns  = `id, name, phone, products, delivery_schedule, created_at`
)

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = domain.NormalizeName(product.Name)
	if product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	var row productRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO products (name, category, price, stock, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING `+productColumns,
		product.Name, product.Category, product.Price, product.Stock, product.Status)
	if err != nil {
		return nil, mapError(err)
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows := make([]productRow, 0, 64)
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY name`); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) CreateEquipment(ctx context.Context, equipment domain.Equipment) (*domain.Equipment, error) {
	equipment.Name = domain.NormalizeName(equipment.Name)
	if equipment.Name == "" || equipment.Quantity < 0 {
		return nil, store.ErrInvalidTransaction
	}

	var row equipmentRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO equipment (name, quantity, status, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		RETURNING `+equipmentColumns,
		equipment.Name, equipment.Quantity, equipment.Status)
	if err != nil {
		return nil, mapError(err)
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) ListEquipment(ctx context.Context) ([]domain.Equipment, error) {
	rows := make([]equipmentRow, 0, 32)
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+equipmentColumns+` FROM equipment ORDER BY name`); err != nil {
		return nil, err
	}
	items := make([]domain.Equipment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) CreatePackage(ctx context.Context, pkg domain.Package) (*domain.Package, error) {
	pkg.Name = domain.NormalizeName(pkg.Name)
	if pkg.Name == "" || pkg.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO packages (name, price, duration, created_at)
		VALUES ($1,$2,$3,now())
		RETURNING id, created_at
	`, pkg.Name, pkg.Price, pkg.Duration).Scan(&pkg.ID, &pkg.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &pkg, nil
}

func (s *Store) ListPackages(ctx context.Context) ([]domain.Package, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, name, price, duration, created_at FROM packages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Package, 0, 16)
	for rows.Next() {
		var pkg domain.Package
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Price, &pkg.Duration, &pkg.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, pkg)
	}
	return items, rows.Err()
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	var row supplierRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO suppliers (name, phone, products, delivery_schedule, created_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING `+supplierColumns,
		supplier.Name, nullIfEmpty(supplier.Phone), supplier.Products, nullIfEmpty(supplier.DeliverySchedule))
	if err != nil {
		return nil, mapError(err)
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	var row supplierRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	supplier := row.toDomain()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows := make([]supplierRow, 0, 16)
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+supplierColumns+` FROM suppliers ORDER BY id`); err != nil {
		return nil, err
	}
	items := make([]domain.Supplier, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) CreateMember(ctx context.Context, member domain.Member) (*domain.Member, error) {
	member.Name = strings.TrimSpace(member.Name)
	if member.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO members (name, created_at) VALUES ($1, now()) RETURNING id, created_at
	`, member.Name).Scan(&member.ID, &member.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &member, nil
}

func (s *Store) CreateWalkIn(ctx context.Context, walkIn domain.WalkIn) (*domain.WalkIn, error) {
	walkIn.Name = strings.TrimSpace(walkIn.Name)
	if walkIn.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO walk_ins (name, created_at) VALUES ($1, now()) RETURNING id, created_at
	`, walkIn.Name).Scan(&walkIn.ID, &walkIn.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &walkIn, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	employee.Username = strings.ToLower(strings.TrimSpace(employee.Username))
	if employee.Username == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO employees (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING id, created_at
	`, employee.Username, employee.PasswordHash, employee.Role, employee.Active).Scan(&employee.ID, &employee.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &employee, nil
}

func (s *Store) GetEmployeeByUsername(ctx context.Context, username string) (*domain.Employee, error) {
	var employee domain.Employee
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at
		FROM employees
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&employee.ID, &employee.Username, &employee.PasswordHash, &employee.Role, &employee.Active, &employee.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &employee, nil
}

// mapError turns driver errors into store sentinels. Anything unrecognised
// passes through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrConflict
		case "23503", "23514", "23502":
			return store.ErrInvalidTransaction
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}

func buyerFromColumns(memberID sql.NullInt64, walkInID sql.NullInt64) domain.BuyerRef {
	if memberID.Valid {
		return domain.MemberBuyer(memberID.Int64)
	}
	if walkInID.Valid {
		return domain.WalkInBuyer(walkInID.Int64)
	}
	return domain.BuyerRef{}
}

func itemFromColumns(packageID sql.NullInt64, productID sql.NullInt64) domain.ItemRef {
	if packageID.Valid {
		return domain.PackageItem(packageID.Int64)
	}
	if productID.Valid {
		return domain.ProductItem(productID.Int64)
	}
	return domain.ItemRef{}
}
