package fulfillment

import (
	"context"
	"errors"

	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/store"
)

// Resolver finds the catalog row a purchase-order line refers to. found is
// false when no row matches; err is reserved for store failures.
type Resolver interface {
	Resolve(ctx context.Context, tx store.Tx, category domain.CatalogKind, name string) (item domain.CatalogItem, found bool, err error)
}

// NameResolver matches by exact (whitespace-normalized) name: equipment
// orders look in the equipment table, everything else in products.
type NameResolver struct{}

func (NameResolver) Resolve(ctx context.Context, tx store.Tx, category domain.CatalogKind, name string) (domain.CatalogItem, bool, error) {
	if category == domain.CatalogEquipment {
		equipment, err := tx.FindEquipmentByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			return domain.CatalogItem{}, false, nil
		}
		if err != nil {
			return domain.CatalogItem{}, false, err
		}
		return domain.CatalogItem{
			Kind:   domain.CatalogEquipment,
			ID:     equipment.ID,
			Name:   equipment.Name,
			Stock:  equipment.Quantity,
			Status: equipment.Status,
		}, true, nil
	}

	product, err := tx.FindProductByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CatalogItem{}, false, nil
	}
	if err != nil {
		return domain.CatalogItem{}, false, err
	}
	return domain.CatalogItem{
		Kind:   domain.CatalogProduct,
		ID:     product.ID,
		Name:   product.Name,
		Stock:  product.Stock,
		Status: product.Status,
	}, true, nil
}
