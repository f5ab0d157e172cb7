package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/metrics"
	"ahontrack/backend/internal/notify"
	"ahontrack/backend/internal/store"
	"ahontrack/backend/internal/xid"
)

type Line struct {
	Item      domain.ItemRef
	UnitPrice decimal.Decimal
	Quantity  int
}

type Request struct {
	Lines          []Line
	Buyer          domain.BuyerRef
	PaymentMethod  string
	IdempotencyKey string
}

type Auditor interface {
	Log(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type Options struct {
	SessionPlan       SessionPlan
	LowStockThreshold int
	Location          *time.Location
	Audit             Auditor
	Notifier          Notifier
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Engine turns a cart into sales. Every checkout is one store transaction:
// it either records all lines with their stock, session and aggregate
// effects, or none of them.
type Engine struct {
	repo     store.Repository
	plan     SessionPlan
	lowStock int
	loc      *time.Location
	audit    Auditor
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(repo store.Repository, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionPlan.sessions == nil {
		opts.SessionPlan = NewSessionPlan(nil)
	}
	return &Engine{
		repo:     repo,
		plan:     opts.SessionPlan,
		lowStock: opts.LowStockThreshold,
		loc:      opts.Location,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// result collects what the transaction did so it can be reported after the
// commit decision.
type result struct {
	receipt  domain.Receipt
	lowStock []string
}

func (e *Engine) ProcessCheckout(ctx context.Context, req Request, actor domain.Actor) (domain.Receipt, error) {
	started := time.Now()
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = "Cash"
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if err := validate(req, actor); err != nil {
		e.report(ctx, req, actor, result{}, err, time.Since(started))
		return domain.Receipt{}, err
	}

	res, err := e.run(ctx, req, actor)
	e.report(ctx, req, actor, res, err, time.Since(started))
	if err != nil {
		return domain.Receipt{}, err
	}
	return res.receipt, nil
}

func validate(req Request, actor domain.Actor) error {
	if len(req.Lines) == 0 {
		return ErrEmptyCart
	}
	if req.Buyer.IsZero() {
		return ErrNoBuyerSelected
	}
	for i, line := range req.Lines {
		switch {
		case line.Item.IsZero():
			return fmt.Errorf("%w: line %d has no item", ErrInvalidLine, i+1)
		case line.Quantity < 1:
			return fmt.Errorf("%w: line %d quantity must be at least 1", ErrInvalidLine, i+1)
		case line.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line %d price must not be negative", ErrInvalidLine, i+1)
		case !line.UnitPrice.Equal(line.UnitPrice.Round(2)):
			return fmt.Errorf("%w: line %d price has more than two decimal places", ErrInvalidLine, i+1)
		}
	}
	if !canRecordSales(actor) {
		return ErrNotAuthorized
	}
	return nil
}

func canRecordSales(actor domain.Actor) bool {
	if actor.EmployeeID < 1 {
		return false
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleStaff, domain.RoleCashier:
		return true
	default:
		return false
	}
}

func (e *Engine) run(ctx context.Context, req Request, actor domain.Actor) (result, error) {
	var res result
	now := e.now().In(e.loc)

	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		res = result{}
		if req.IdempotencyKey != "" {
			existing, err := tx.FindReceiptByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				existing.Duplicate = true
				res.receipt = *existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		exists, err := tx.BuyerExists(ctx, req.Buyer)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrBuyerNotFound, req.Buyer)
		}

		receiptNo := xid.Receipt(now)
		total := decimal.Zero
		saleIDs := make([]int64, 0, len(req.Lines))
		for _, line := range req.Lines {
			switch {
			case line.Item.IsProduct():
				low, err := e.takeStock(ctx, tx, line)
				if err != nil {
					return err
				}
				if low != "" {
					res.lowStock = append(res.lowStock, low)
				}
			case line.Item.IsPackage():
				if err := e.creditSessions(ctx, tx, req.Buyer, line, now); err != nil {
					return err
				}
			}

			price := line.UnitPrice.Round(2)
			amount := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			id, err := tx.InsertSale(ctx, domain.Sale{
				ReceiptNo:     receiptNo,
				Item:          line.Item,
				Buyer:         req.Buyer,
				Quantity:      line.Quantity,
				UnitPrice:     price,
				Amount:        amount,
				PaymentMethod: req.PaymentMethod,
				RecordedBy:    actor.EmployeeID,
				SoldAt:        now,
			})
			if err != nil {
				return err
			}
			total = total.Add(amount)
			saleIDs = append(saleIDs, id)
		}

		if _, err := tx.AddDailySales(ctx, domain.DateOf(now), actor.EmployeeID, total, len(saleIDs)); err != nil {
			return err
		}

		res.receipt = domain.Receipt{
			ReceiptNo:        receiptNo,
			IdempotencyKey:   req.IdempotencyKey,
			Buyer:            req.Buyer,
			EmployeeID:       actor.EmployeeID,
			PaymentMethod:    req.PaymentMethod,
			TotalAmount:      total,
			TransactionCount: len(saleIDs),
			SaleIDs:          saleIDs,
			CreatedAt:        now,
		}
		return tx.InsertReceipt(ctx, res.receipt)
	})
	if errors.Is(err, store.ErrConflict) && req.IdempotencyKey != "" {
		// A concurrent checkout with the same key committed first.
		return e.replay(ctx, req.IdempotencyKey)
	}
	if err != nil {
		return result{}, err
	}
	return res, nil
}

func (e *Engine) replay(ctx context.Context, key string) (result, error) {
	var res result
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindReceiptByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		existing.Duplicate = true
		res = result{receipt: *existing}
		return nil
	})
	if err != nil {
		return result{}, err
	}
	return res, nil
}

// takeStock decrements a product under its row lock. It returns the product
// name when the sale leaves it low or out of stock.
func (e *Engine) takeStock(ctx context.Context, tx store.Tx, line Line) (string, error) {
	product, err := tx.GetProductForUpdate(ctx, line.Item.ProductID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: id %d", ErrProductNotFound, line.Item.ProductID())
		}
		return "", err
	}
	if product.Stock < line.Quantity {
		return "", &domain.InsufficientStockError{Item: product.Name, Available: product.Stock, Required: line.Quantity}
	}

	remaining := product.Stock - line.Quantity
	status := domain.StatusForStock(remaining, e.lowStock)
	if err := tx.UpdateProductStock(ctx, product.ID, remaining, status); err != nil {
		return "", err
	}
	if status != domain.StatusInStock {
		return fmt.Sprintf("%s (%d left)", product.Name, remaining), nil
	}
	return "", nil
}

func (e *Engine) creditSessions(ctx context.Context, tx store.Tx, buyer domain.BuyerRef, line Line, now time.Time) error {
	pkg, err := tx.GetPackage(ctx, line.Item.PackageID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrPackageNotFound, line.Item.PackageID())
		}
		return err
	}
	sessions := e.plan.SessionsFor(pkg.Duration) * line.Quantity
	_, _, err = tx.AddSessions(ctx, buyer, pkg.ID, sessions, domain.DateOf(now))
	return err
}

func (e *Engine) report(ctx context.Context, req Request, actor domain.Actor, res result, err error, took time.Duration) {
	switch {
	case err != nil:
		e.metrics.ObserveCheckout("rejected", decimal.Zero, took)
		log.Printf("[checkout] checkout by employee %d for %s failed: %v", actor.EmployeeID, req.Buyer, err)
		if e.audit != nil {
			e.audit.Log(ctx, actor, "checkout.failed", "buyer", req.Buyer.String(),
				fmt.Sprintf("lines=%d,payment=%s,error=%s", len(req.Lines), req.PaymentMethod, err))
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: "Checkout failed", Message: Describe(err)})
		}
	case res.receipt.Duplicate:
		e.metrics.ObserveCheckout("duplicate", decimal.Zero, took)
	default:
		e.metrics.ObserveCheckout("committed", res.receipt.TotalAmount, took)
		if e.audit != nil {
			e.audit.Log(ctx, actor, "checkout", "receipt", res.receipt.ReceiptNo,
				fmt.Sprintf("buyer=%s,total=%s,transactions=%d,payment=%s",
					res.receipt.Buyer, res.receipt.TotalAmount.StringFixed(2), res.receipt.TransactionCount, res.receipt.PaymentMethod))
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, notify.Notification{
				Level:   notify.LevelInfo,
				Title:   "Checkout complete",
				Message: fmt.Sprintf("Receipt %s recorded: %s", res.receipt.ReceiptNo, res.receipt.TotalAmount.StringFixed(2)),
			})
			if len(res.lowStock) > 0 {
				e.notifier.Notify(ctx, notify.Notification{
					Level:   notify.LevelWarning,
					Title:   "Low stock",
					Message: strings.Join(res.lowStock, ", "),
				})
			}
		}
	}
}

// Describe renders a checkout error for the front desk.
func Describe(err error) string {
	var stockErr *domain.InsufficientStockError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &stockErr):
		return fmt.Sprintf("Not enough stock for %s: only %d left, %d requested.", stockErr.Item, stockErr.Available, stockErr.Required)
	case errors.Is(err, ErrEmptyCart):
		return "Add at least one item to the cart."
	case errors.Is(err, ErrNoBuyerSelected):
		return "Select a member or walk-in customer first."
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to record sales."
	case errors.Is(err, ErrInvalidLine), errors.Is(err, ErrBuyerNotFound),
		errors.Is(err, ErrProductNotFound), errors.Is(err, ErrPackageNotFound):
		return capitalize(err.Error()) + "."
	default:
		return "Checkout failed. Nothing was recorded; please try again."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
