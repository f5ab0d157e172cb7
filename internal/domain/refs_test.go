package domain

import (
	"encoding/json"
	"testing"
)

func TestParseItemRef(t *testing.T) {
	cases := []struct {
		kind    string
		id      int64
		want    ItemRef
		wantErr bool
	}{
		{kind: "package", id: 4, want: PackageItem(4)},
		{kind: " Product ", id: 9, want: ProductItem(9)},
		{kind: "service", id: 1, wantErr: true},
		{kind: "product", id: 0, wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseItemRef(tc.kind, tc.id)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseItemRef(%q,%d): expected error", tc.kind, tc.id)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseItemRef(%q,%d): %v", tc.kind, tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("ParseItemRef(%q,%d) = %v, want %v", tc.kind, tc.id, got, tc.want)
		}
	}
}

func TestItemRefVariantsAreExclusive(t *testing.T) {
	pkg := PackageItem(3)
	if pkg.PackageID() != 3 || pkg.ProductID() != 0 {
		t.Fatalf("package ref leaked into product id: %+v", pkg)
	}
	prod := ProductItem(5)
	if prod.ProductID() != 5 || prod.PackageID() != 0 {
		t.Fatalf("product ref leaked into package id: %+v", prod)
	}
	var zero ItemRef
	if !zero.IsZero() || zero.PackageID() != 0 || zero.ProductID() != 0 {
		t.Fatalf("zero ref should point at nothing")
	}
}

func TestBuyerRefJSON(t *testing.T) {
	payload, err := json.Marshal(WalkInBuyer(7))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"kind":"walk_in","id":7}` {
		t.Fatalf("unexpected payload %s", payload)
	}

	var decoded BuyerRef
	if err := json.Unmarshal([]byte(`{"kind":"walk-in","id":7}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != WalkInBuyer(7) || decoded.MemberID() != 0 || decoded.WalkInID() != 7 {
		t.Fatalf("unexpected buyer %v", decoded)
	}

	if err := json.Unmarshal([]byte(`{"kind":"staff","id":1}`), &decoded); err == nil {
		t.Fatalf("expected unknown buyer kind to be rejected")
	}
}

func TestStatusForStock(t *testing.T) {
	cases := map[int]StockStatus{
		-2: StatusOutOfStock,
		0:  StatusOutOfStock,
		3:  StatusLowStock,
		10: StatusLowStock,
		11: StatusInStock,
	}
	for stock, want := range cases {
		if got := StatusForStock(stock, DefaultLowStockThreshold); got != want {
			t.Fatalf("StatusForStock(%d) = %s, want %s", stock, got, want)
		}
	}
}
