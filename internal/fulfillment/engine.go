package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/metrics"
	"ahontrack/backend/internal/notify"
	"ahontrack/backend/internal/store"
)

type Auditor interface {
	Log(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type Options struct {
	Resolver          Resolver
	Units             UnitTable
	LowStockThreshold int
	Audit             Auditor
	Notifier          Notifier
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Transition is one catalog row's stock change.
type Transition struct {
	Kind     domain.CatalogKind `json:"kind"`
	ItemID   int64              `json:"item_id"`
	Item     string             `json:"item"`
	Unit     string             `json:"unit"`
	Ordered  int                `json:"ordered"`
	Change   int                `json:"change"`
	OldStock int                `json:"old_stock"`
	NewStock int                `json:"new_stock"`
}

type Summary struct {
	PurchaseOrderID  int64        `json:"purchase_order_id"`
	Number           string       `json:"po_number"`
	SentAt           time.Time    `json:"sent_at"`
	SentBy           string       `json:"sent_by"`
	Transitions      []Transition `json:"transitions"`
	SupplierProducts string       `json:"supplier_products"`
}

type Reversal struct {
	PurchaseOrderID  int64        `json:"purchase_order_id"`
	Number           string       `json:"po_number"`
	WasSent          bool         `json:"was_sent"`
	Transitions      []Transition `json:"transitions"`
	Skipped          []string     `json:"skipped,omitempty"`
	SupplierProducts string       `json:"supplier_products,omitempty"`
}

// Engine receives delivered-and-paid purchase orders into inventory exactly
// once, and reverses that receipt when an order is deleted.
type Engine struct {
	repo     store.Repository
	resolver Resolver
	units    UnitTable
	lowStock int
	audit    Auditor
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(repo store.Repository, opts Options) *Engine {
	if opts.Resolver == nil {
		opts.Resolver = NameResolver{}
	}
	if opts.Units.factors == nil {
		opts.Units = NewUnitTable(DefaultPackingFactor, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		repo:     repo,
		resolver: opts.Resolver,
		units:    opts.Units,
		lowStock: opts.LowStockThreshold,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

type resolvedLine struct {
	line domain.PurchaseOrderLine
	item domain.CatalogItem
}

type stockKey struct {
	kind domain.CatalogKind
	id   int64
}

func (e *Engine) SendToInventory(ctx context.Context, purchaseOrderID int64, actor domain.Actor) (Summary, error) {
	started := time.Now()
	summary, err := e.send(ctx, purchaseOrderID, actor)
	e.reportSend(ctx, purchaseOrderID, actor, summary, err, time.Since(started))
	return summary, err
}

func (e *Engine) send(ctx context.Context, purchaseOrderID int64, actor domain.Actor) (Summary, error) {
	if !canReceive(actor) {
		return Summary{}, ErrNotAuthorized
	}

	var summary Summary
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, purchaseOrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPurchaseOrderNotFound
			}
			return err
		}
		if po.SentToInventory {
			sent := &AlreadySentError{}
			if po.SentToInventoryAt != nil {
				sent.At = *po.SentToInventoryAt
			}
			return sent
		}
		if !po.CanSendToInventory() {
			return &InvalidStatusError{Shipping: po.ShippingStatus, Payment: po.PaymentStatus}
		}
		if len(po.Items) == 0 {
			return ErrEmptyOrder
		}

		lines, missing, err := e.resolveAll(ctx, tx, po)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &ItemsNotFoundError{Names: missing}
		}

		transitions, err := e.apply(ctx, tx, lines, 1)
		if err != nil {
			return err
		}

		sentAt := e.now().UTC()
		if err := tx.MarkPurchaseOrderSent(ctx, po.ID, sentAt, actor.Username); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &AlreadySentError{}
			}
			return err
		}

		products, err := e.updateSupplierProducts(ctx, tx, po, MergeProducts)
		if err != nil {
			return err
		}

		summary = Summary{
			PurchaseOrderID:  po.ID,
			Number:           po.Number,
			SentAt:           sentAt,
			SentBy:           actor.Username,
			Transitions:      transitions,
			SupplierProducts: products,
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// ReverseFulfillment deletes a purchase order and, when it had been received,
// takes the received quantities back out of stock and drops its items from
// the supplier's product list. Items that no longer exist in the catalog are
// skipped and reported.
func (e *Engine) ReverseFulfillment(ctx context.Context, purchaseOrderID int64, actor domain.Actor) (Reversal, error) {
	started := time.Now()
	reversal, err := e.reverse(ctx, purchaseOrderID, actor)
	e.reportReverse(ctx, purchaseOrderID, actor, reversal, err, time.Since(started))
	return reversal, err
}

func (e *Engine) reverse(ctx context.Context, purchaseOrderID int64, actor domain.Actor) (Reversal, error) {
	if !canReceive(actor) {
		return Reversal{}, ErrNotAuthorized
	}

	var reversal Reversal
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, purchaseOrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPurchaseOrderNotFound
			}
			return err
		}
		reversal = Reversal{PurchaseOrderID: po.ID, Number: po.Number, WasSent: po.SentToInventory}

		if po.SentToInventory {
			lines, missing, err := e.resolveAll(ctx, tx, po)
			if err != nil {
				return err
			}
			reversal.Skipped = missing
			reversal.Transitions, err = e.apply(ctx, tx, lines, -1)
			if err != nil {
				return err
			}
			reversal.SupplierProducts, err = e.updateSupplierProducts(ctx, tx, po, RemoveProducts)
			if err != nil {
				return err
			}
		}

		return tx.DeletePurchaseOrder(ctx, po.ID)
	})
	if err != nil {
		return Reversal{}, err
	}
	return reversal, nil
}

func canReceive(actor domain.Actor) bool {
	if actor.EmployeeID < 1 {
		return false
	}
	return actor.Role == domain.RoleAdmin || actor.Role == domain.RoleStaff
}

// resolveAll looks up every line before anything is written so that all
// missing items can be reported together.
func (e *Engine) resolveAll(ctx context.Context, tx store.Tx, po *domain.PurchaseOrder) ([]resolvedLine, []string, error) {
	lines := make([]resolvedLine, 0, len(po.Items))
	missing := make([]string, 0)
	for _, line := range po.Items {
		item, found, err := e.resolver.Resolve(ctx, tx, po.Category, line.ItemName)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			missing = append(missing, line.ItemName)
			continue
		}
		lines = append(lines, resolvedLine{line: line, item: item})
	}
	return lines, missing, nil
}

// apply adds (sign 1) or removes (sign -1) each line's quantity. Products go
// through the unit table; equipment counts are taken as-is. Repeated items
// accumulate against the running stock.
func (e *Engine) apply(ctx context.Context, tx store.Tx, lines []resolvedLine, sign int) ([]Transition, error) {
	current := make(map[stockKey]int, len(lines))
	transitions := make([]Transition, 0, len(lines))
	for _, rl := range lines {
		key := stockKey{kind: rl.item.Kind, id: rl.item.ID}
		old, seen := current[key]
		if !seen {
			old = rl.item.Stock
		}

		qty := rl.line.Quantity
		if rl.item.Kind == domain.CatalogProduct {
			qty = e.units.Convert(rl.line.Unit, rl.line.Quantity)
		}
		next := old + sign*qty
		if next < 0 {
			return nil, &domain.InsufficientStockError{Item: rl.item.Name, Available: old, Required: qty}
		}

		status := domain.StatusForStock(next, e.lowStock)
		var err error
		if rl.item.Kind == domain.CatalogEquipment {
			err = tx.UpdateEquipmentQuantity(ctx, rl.item.ID, next, status)
		} else {
			err = tx.UpdateProductStock(ctx, rl.item.ID, next, status)
		}
		if err != nil {
			return nil, err
		}
		current[key] = next

		transitions = append(transitions, Transition{
			Kind:     rl.item.Kind,
			ItemID:   rl.item.ID,
			Item:     rl.item.Name,
			Unit:     rl.line.Unit,
			Ordered:  rl.line.Quantity,
			Change:   sign * qty,
			OldStock: old,
			NewStock: next,
		})
	}
	return transitions, nil
}

func (e *Engine) updateSupplierProducts(ctx context.Context, tx store.Tx, po *domain.PurchaseOrder, edit func(string, []string) string) (string, error) {
	supplier, err := tx.GetSupplierForUpdate(ctx, po.SupplierID)
	if err != nil {
		return "", fmt.Errorf("load supplier %d: %w", po.SupplierID, err)
	}
	names := make([]string, 0, len(po.Items))
	for _, line := range po.Items {
		names = append(names, domain.NormalizeName(line.ItemName))
	}
	updated := edit(supplier.Products, names)
	if updated == supplier.Products {
		return updated, nil
	}
	if err := tx.UpdateSupplierProducts(ctx, supplier.ID, updated); err != nil {
		return "", err
	}
	return updated, nil
}

func (e *Engine) reportSend(ctx context.Context, purchaseOrderID int64, actor domain.Actor, summary Summary, err error, took time.Duration) {
	entityID := fmt.Sprintf("%d", purchaseOrderID)
	if err != nil {
		e.metrics.ObserveFulfillment("send_to_inventory", outcome(err), took)
		log.Printf("[fulfillment] send to inventory for purchase order %d failed: %v", purchaseOrderID, err)
		if e.audit != nil {
			e.audit.Log(ctx, actor, "inventory.send_failed", "purchase_order", entityID, err.Error())
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: "Send to inventory failed", Message: Describe(err)})
		}
		return
	}

	e.metrics.ObserveFulfillment("send_to_inventory", "committed", took)
	if e.audit != nil {
		e.audit.Log(ctx, actor, "inventory.send", "purchase_order", entityID,
			fmt.Sprintf("po=%s,%s", summary.Number, describeTransitions(summary.Transitions)))
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, notify.Notification{
			Level:   notify.LevelInfo,
			Title:   "Sent to inventory",
			Message: fmt.Sprintf("Purchase order %s received: %d item(s) updated.", summary.Number, len(summary.Transitions)),
		})
	}
}

func (e *Engine) reportReverse(ctx context.Context, purchaseOrderID int64, actor domain.Actor, reversal Reversal, err error, took time.Duration) {
	entityID := fmt.Sprintf("%d", purchaseOrderID)
	if err != nil {
		e.metrics.ObserveFulfillment("reverse", outcome(err), took)
		log.Printf("[fulfillment] reversal of purchase order %d failed: %v", purchaseOrderID, err)
		if e.audit != nil {
			e.audit.Log(ctx, actor, "purchase_order.delete_failed", "purchase_order", entityID, err.Error())
		}
		if e.notifier != nil {
			e.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: "Delete purchase order failed", Message: Describe(err)})
		}
		return
	}

	e.metrics.ObserveFulfillment("reverse", "committed", took)
	detail := fmt.Sprintf("po=%s,was_sent=%t", reversal.Number, reversal.WasSent)
	if len(reversal.Transitions) > 0 {
		detail += "," + describeTransitions(reversal.Transitions)
	}
	if len(reversal.Skipped) > 0 {
		detail += ",skipped=" + strings.Join(reversal.Skipped, "|")
	}
	if e.audit != nil {
		e.audit.Log(ctx, actor, "purchase_order.delete", "purchase_order", entityID, detail)
	}
	if e.notifier != nil && len(reversal.Skipped) > 0 {
		e.notifier.Notify(ctx, notify.Notification{
			Level:   notify.LevelWarning,
			Title:   "Purchase order deleted",
			Message: "Stock was not adjusted for items no longer in the catalog: " + strings.Join(reversal.Skipped, ", "),
		})
	}
}

func describeTransitions(transitions []Transition) string {
	parts := make([]string, 0, len(transitions))
	for _, t := range transitions {
		parts = append(parts, fmt.Sprintf("%s: %d -> %d", t.Item, t.OldStock, t.NewStock))
	}
	return strings.Join(parts, "; ")
}

func outcome(err error) string {
	var already *AlreadySentError
	var missing *ItemsNotFoundError
	switch {
	case errors.As(err, &already):
		return "already_sent"
	case errors.As(err, &missing):
		return "items_not_found"
	default:
		return "rejected"
	}
}

// Describe renders a fulfillment error for the back office.
func Describe(err error) string {
	var already *AlreadySentError
	var status *InvalidStatusError
	var missing *ItemsNotFoundError
	var stockErr *domain.InsufficientStockError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &already):
		return "This purchase order has already been sent to inventory."
	case errors.As(err, &status):
		return fmt.Sprintf("Only orders that are Delivered and Paid can be sent to inventory (currently %s / %s).", status.Shipping, status.Payment)
	case errors.As(err, &missing):
		return "These items are not in the catalog yet. Create them first, then send the order again: " + strings.Join(missing.Names, ", ")
	case errors.As(err, &stockErr):
		return fmt.Sprintf("Cannot take back %d of %s: only %d in stock.", stockErr.Required, stockErr.Item, stockErr.Available)
	case errors.Is(err, ErrPurchaseOrderNotFound):
		return "Purchase order not found."
	case errors.Is(err, ErrEmptyOrder):
		return "This purchase order has no items."
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to receive inventory."
	default:
		return "The operation failed and nothing was changed. Please try again."
	}
}
