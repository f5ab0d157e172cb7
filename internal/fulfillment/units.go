package fulfillment

import "strings"

const DefaultPackingFactor = 12

// UnitTable converts purchase-order units into stock units for products.
type UnitTable struct {
	factors map[string]int
}

func NewUnitTable(packingFactor int, overrides map[string]int) UnitTable {
	if packingFactor < 1 {
		packingFactor = DefaultPackingFactor
	}
	factors := map[string]int{
		"box":   packingFactor,
		"pack":  packingFactor,
		"case":  packingFactor,
		"pcs":   1,
		"kg":    1,
		"liter": 1,
	}
	for unit, n := range overrides {
		if n > 0 {
			factors[normalizeUnit(unit)] = n
		}
	}
	return UnitTable{factors: factors}
}

// Convert returns qty expressed in stock units. Unknown units count 1:1.
func (u UnitTable) Convert(unit string, qty int) int {
	if n, ok := u.factors[normalizeUnit(unit)]; ok {
		return qty * n
	}
	return qty
}

func normalizeUnit(unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))
	switch unit {
	case "boxes":
		return "box"
	case "packs":
		return "pack"
	case "cases":
		return "case"
	case "pc", "piece", "pieces":
		return "pcs"
	case "l", "liters", "litre", "litres":
		return "liter"
	default:
		return unit
	}
}
