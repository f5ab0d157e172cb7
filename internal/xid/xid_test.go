package xid

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("audit")
	b := New("audit")
	if !strings.HasPrefix(a, "audit-") {
		t.Fatalf("expected audit- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
}

func TestReceiptFormat(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	got := Receipt(at)
	if !strings.HasPrefix(got, "RCPT-20261019-") || len(got) != len("RCPT-20261019-")+8 {
		t.Fatalf("unexpected receipt number %s", got)
	}
}
