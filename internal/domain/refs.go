package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ItemKind string

const (
	ItemPackage ItemKind = "package"
	ItemProduct ItemKind = "product"
)

// ItemRef points at exactly one sellable: a package or a product. The zero
// value refers to nothing.
type ItemRef struct {
	kind ItemKind
	id   int64
}

func PackageItem(id int64) ItemRef { return ItemRef{kind: ItemPackage, id: id} }
func ProductItem(id int64) ItemRef { return ItemRef{kind: ItemProduct, id: id} }

func ParseItemRef(kind string, id int64) (ItemRef, error) {
	if id < 1 {
		return ItemRef{}, fmt.Errorf("item id must be positive")
	}
	switch ItemKind(strings.ToLower(strings.TrimSpace(kind))) {
	case ItemPackage:
		return PackageItem(id), nil
	case ItemProduct:
		return ProductItem(id), nil
	default:
		return ItemRef{}, fmt.Errorf("unknown item category %q", kind)
	}
}

func (r ItemRef) Kind() ItemKind  { return r.kind }
func (r ItemRef) ID() int64       { return r.id }
func (r ItemRef) IsZero() bool    { return r.kind == "" }
func (r ItemRef) IsPackage() bool { return r.kind == ItemPackage }
func (r ItemRef) IsProduct() bool { return r.kind == ItemProduct }

// PackageID and ProductID return the id for the matching variant and 0 for
// the other one.
func (r ItemRef) PackageID() int64 {
	if r.kind == ItemPackage {
		return r.id
	}
	return 0
}

func (r ItemRef) ProductID() int64 {
	if r.kind == ItemProduct {
		return r.id
	}
	return 0
}

func (r ItemRef) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s#%d", r.kind, r.id)
}

func (r ItemRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Kind: string(r.kind), ID: r.id})
}

func (r *ItemRef) UnmarshalJSON(data []byte) error {
	var raw refJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseItemRef(raw.Kind, raw.ID)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type BuyerKind string

const (
	BuyerMember BuyerKind = "member"
	BuyerWalkIn BuyerKind = "walk_in"
)

// BuyerRef points at exactly one buyer: a member or a walk-in customer.
type BuyerRef struct {
	kind BuyerKind
	id   int64
}

func MemberBuyer(id int64) BuyerRef { return BuyerRef{kind: BuyerMember, id: id} }
func WalkInBuyer(id int64) BuyerRef { return BuyerRef{kind: BuyerWalkIn, id: id} }

func ParseBuyerRef(kind string, id int64) (BuyerRef, error) {
	if id < 1 {
		return BuyerRef{}, fmt.Errorf("buyer id must be positive")
	}
	switch BuyerKind(strings.ToLower(strings.TrimSpace(kind))) {
	case BuyerMember:
		return MemberBuyer(id), nil
	case BuyerWalkIn, "walkin", "walk-in":
		return WalkInBuyer(id), nil
	default:
		return BuyerRef{}, fmt.Errorf("unknown buyer category %q", kind)
	}
}

func (r BuyerRef) Kind() BuyerKind { return r.kind }
func (r BuyerRef) ID() int64       { return r.id }
func (r BuyerRef) IsZero() bool    { return r.kind == "" }

func (r BuyerRef) MemberID() int64 {
	if r.kind == BuyerMember {
		return r.id
	}
	return 0
}

func (r BuyerRef) WalkInID() int64 {
	if r.kind == BuyerWalkIn {
		return r.id
	}
	return 0
}

func (r BuyerRef) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s#%d", r.kind, r.id)
}

func (r BuyerRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Kind: string(r.kind), ID: r.id})
}

func (r *BuyerRef) UnmarshalJSON(data []byte) error {
	var raw refJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseBuyerRef(raw.Kind, raw.ID)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type refJSON struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}
