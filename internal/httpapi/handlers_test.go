package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ahontrack/backend/internal/audit"
	"ahontrack/backend/internal/checkout"
	"ahontrack/backend/internal/domain"
	"ahontrack/backend/internal/fulfillment"
	"ahontrack/backend/internal/metrics"
	"ahontrack/backend/internal/service"
	"ahontrack/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real engines and a
// real AuthManager so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	m := metrics.New()
	logger := audit.NewLogger(audit.NewRepositorySink(repo))
	checkoutEngine := checkout.NewEngine(repo, checkout.Options{LowStockThreshold: domain.DefaultLowStockThreshold, Audit: logger, Metrics: m})
	fulfillmentEngine := fulfillment.NewEngine(repo, fulfillment.Options{LowStockThreshold: domain.DefaultLowStockThreshold, Audit: logger, Metrics: m})
	svc := service.New(repo, service.Options{
		Checkout:          checkoutEngine,
		Fulfillment:       fulfillmentEngine,
		Audit:             logger,
		LowStockThreshold: domain.DefaultLowStockThreshold,
	})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, m, "*")
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func do(t *testing.T, handler http.Handler, method string, path string, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"admin123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != domain.RoleAdmin || resp.EmployeeID != 1 {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	body := `{
		"items": [{"item": {"kind": "product", "id": 1}, "price": "235.00", "quantity": 2}],
		"buyer": {"kind": "walk_in", "id": 1},
		"payment_method": "Cash",
		"idempotency_key": "till-7-0042"
	}`
	rec := do(t, handler, http.MethodPost, "/api/v1/checkout", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Result.Success || resp.Receipt == nil || resp.Receipt.TotalAmount.StringFixed(2) != "470.00" {
		t.Fatalf("unexpected checkout response %+v", resp)
	}

	replay := do(t, handler, http.MethodPost, "/api/v1/checkout", token, body)
	if replay.Code != http.StatusOK {
		t.Fatalf("expected 200 for replayed checkout, got %d", replay.Code)
	}

	sales := do(t, handler, http.MethodGet, "/api/v1/receipts/"+resp.Receipt.ReceiptNo+"/sales", token, "")
	if sales.Code != http.StatusOK || !strings.Contains(sales.Body.String(), `"receipt_no"`) {
		t.Fatalf("unexpected receipt sales response %d %s", sales.Code, sales.Body.String())
	}

	report := do(t, handler, http.MethodGet, "/api/v1/reports/daily-sales", token, "")
	if report.Code != http.StatusOK || !strings.Contains(report.Body.String(), `"transaction_count":1`) {
		t.Fatalf("unexpected daily sales report %d %s", report.Code, report.Body.String())
	}
}

func TestCheckoutInsufficientStockReturnsConflict(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	body := `{"items": [{"item": {"kind": "product", "id": 4}, "price": "320.00", "quantity": 9}], "buyer": {"kind": "member", "id": 1}}`
	rec := do(t, handler, http.MethodPost, "/api/v1/checkout", token, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Success || !strings.Contains(resp.Result.Message, "Not enough stock for Resistance Band") {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
}

func TestCheckoutWithoutBuyerIsBadRequest(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := do(t, handler, http.MethodPost, "/api/v1/checkout", token, `{"items": [{"item": {"kind": "package", "id": 1}, "price": "100", "quantity": 1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPurchaseOrderFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	created := do(t, handler, http.MethodPost, "/api/v1/purchase-orders", token,
		`{"po_number":"PO-77","supplier_id":1,"tax":"12.00","items":[{"item_name":"Tumbler","unit":"box","quantity":1,"unit_price":"1200.00"}]}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	var createdBody struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	if err := json.NewDecoder(created.Body).Decode(&createdBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if createdBody.PurchaseOrder.Total.StringFixed(2) != "1212.00" {
		t.Fatalf("unexpected total %s", createdBody.PurchaseOrder.Total)
	}
	base := fmt.Sprintf("/api/v1/purchase-orders/%d", createdBody.PurchaseOrder.ID)

	early := do(t, handler, http.MethodPost, base+"/send-to-inventory", token, "")
	if early.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for pending order, got %d (body: %s)", early.Code, early.Body.String())
	}

	status := do(t, handler, http.MethodPatch, base+"/status", token, `{"shipping_status":"Delivered","payment_status":"Paid"}`)
	if status.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", status.Code, status.Body.String())
	}

	sent := do(t, handler, http.MethodPost, base+"/send-to-inventory", token, "")
	if sent.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", sent.Code, sent.Body.String())
	}
	if !strings.Contains(sent.Body.String(), `"old_stock":40`) || !strings.Contains(sent.Body.String(), `"new_stock":52`) {
		t.Fatalf("expected tumbler 40 -> 52, got %s", sent.Body.String())
	}

	again := do(t, handler, http.MethodPost, base+"/send-to-inventory", token, "")
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second send, got %d", again.Code)
	}

	deleted := do(t, handler, http.MethodDelete, base, token, "")
	if deleted.Code != http.StatusOK || !strings.Contains(deleted.Body.String(), `"was_sent":true`) {
		t.Fatalf("unexpected delete response %d %s", deleted.Code, deleted.Body.String())
	}

	gone := do(t, handler, http.MethodGet, base, token, "")
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", gone.Code)
	}
}

func TestSendToInventoryReportsMissingItems(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	created := do(t, handler, http.MethodPost, "/api/v1/purchase-orders", token,
		`{"po_number":"PO-78","supplier_id":1,"shipping_status":"Delivered","payment_status":"Paid","items":[{"item_name":"Creatine","quantity":3,"unit_price":"500"},{"item_name":"Tumbler","quantity":1,"unit_price":"100"}]}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	var createdBody struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	if err := json.NewDecoder(created.Body).Decode(&createdBody); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec := do(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/send-to-inventory", createdBody.PurchaseOrder.ID), token, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp service.FulfillmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.MissingItems) != 1 || resp.Result.MissingItems[0] != "Creatine" {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
}

func TestCashierCannotManagePurchaseOrders(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := do(t, handler, http.MethodGet, "/api/v1/purchase-orders", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSessionBalancesEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	checkoutBody := `{"items": [{"item": {"kind": "package", "id": 2}, "price": "1500", "quantity": 2}], "buyer": {"kind": "member", "id": 1}}`
	if rec := do(t, handler, http.MethodPost, "/api/v1/checkout", token, checkoutBody); rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/session-balances?buyer_kind=member&buyer_id=1", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sessions_remaining":60`) {
		t.Fatalf("unexpected balances %d %s", rec.Code, rec.Body.String())
	}

	bad := do(t, handler, http.MethodGet, "/api/v1/session-balances?buyer_kind=visitor&buyer_id=1", token, "")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown buyer kind, got %d", bad.Code)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	handler := newTestAPI(t).Handler()
	do(t, handler, http.MethodGet, "/healthz", "", "")

	rec := do(t, handler, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ahontrack_http_requests_total{handler="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request counter in metrics output")
	}
}
