package domain

import (
	"fmt"
	"strings"
)

type StockStatus string

const (
	StatusInStock    StockStatus = "In Stock"
	StatusLowStock   StockStatus = "Low Stock"
	StatusOutOfStock StockStatus = "Out of Stock"
)

const DefaultLowStockThreshold = 10

// StatusForStock derives the catalog status shown next to a stock count.
func StatusForStock(stock int, lowThreshold int) StockStatus {
	switch {
	case stock <= 0:
		return StatusOutOfStock
	case stock <= lowThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// InsufficientStockError aborts a transaction that would drive stock below
// zero.
type InsufficientStockError struct {
	Item      string
	Available int
	Required  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, required %d", e.Item, e.Available, e.Required)
}

// NormalizeName is the lookup key used when catalog rows are matched by
// name.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
