package checkout

import "errors"

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrNoBuyerSelected = errors.New("no member or walk-in customer selected")
	ErrInvalidLine     = errors.New("invalid cart line")
	ErrNotAuthorized   = errors.New("employee is not authorized to record sales")
	ErrBuyerNotFound   = errors.New("buyer not found")
	ErrProductNotFound = errors.New("product not found")
	ErrPackageNotFound = errors.New("package not found")
)
