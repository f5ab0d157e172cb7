package fulfillment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ahontrack/backend/internal/domain"
)

var (
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")
	ErrEmptyOrder            = errors.New("purchase order has no items")
	ErrNotAuthorized         = errors.New("employee is not authorized to receive inventory")
)

// AlreadySentError is returned when an order was received before. The first
// receipt time is kept so the operator can see when it happened.
type AlreadySentError struct {
	At time.Time
}

func (e *AlreadySentError) Error() string {
	if e.At.IsZero() {
		return "purchase order was already sent to inventory"
	}
	return fmt.Sprintf("purchase order was already sent to inventory on %s", e.At.Format("2006-01-02 15:04"))
}

type InvalidStatusError struct {
	Shipping domain.ShippingStatus
	Payment  domain.PaymentStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("purchase order must be Delivered and Paid before sending to inventory (shipping %s, payment %s)", e.Shipping, e.Payment)
}

// ItemsNotFoundError lists every order line whose item is missing from the
// catalog. Nothing is received until all of them exist.
type ItemsNotFoundError struct {
	Names []string
}

func (e *ItemsNotFoundError) Error() string {
	return "items not found in catalog: " + strings.Join(e.Names, ", ")
}
