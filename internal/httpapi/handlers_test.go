package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloudquote/backend/internal/cartstore"
	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/service"
	"cloudquote/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real snapshot store
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	snapshots := cartstore.NewMemorySnapshotStore()
	shares := quote.NewShareTokenManager("0123456789abcdef0123456789abcdef")
	svc := service.New(repo, snapshots, shares, service.Config{})

	return New(svc, "*")
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf token: %v", err)
	}
	return payload["csrf_token"]
}

// doJSON performs a request with the CSRF token and session header set and
// decodes the JSON response body.
func doJSON(t *testing.T, api *API, method string, path string, sessionID string, payload any) (int, map[string]json.RawMessage) {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	decoded := map[string]json.RawMessage{}
	if strings.Contains(res.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response (%d): %v", res.Code, err)
		}
	}
	return res.Code, decoded
}

func addKafka(t *testing.T, api *API, sessionID string) domain.CartView {
	t.Helper()
	code, body := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", sessionID, domain.CartAddRequest{
		ItemID:   "42",
		ItemType: "marketplace",
		Duration: "monthly",
		Quantity: 1,
	})
	if code != http.StatusCreated {
		t.Fatalf("add to cart: status %d", code)
	}
	var view domain.CartView
	if err := json.Unmarshal(body["cart"], &view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	return view
}

func createQuotation(t *testing.T, api *API, sessionID string) domain.Quotation {
	t.Helper()
	addKafka(t, api, sessionID)
	code, body := doJSON(t, api, http.MethodPost, "/api/v1/quotations", sessionID, domain.QuotationCreateRequest{
		Customer: domain.Customer{Name: "Asha Rao", Email: "asha@example.com"},
	})
	if code != http.StatusCreated {
		t.Fatalf("create quotation: status %d", code)
	}
	var q domain.Quotation
	if err := json.Unmarshal(body["quotation"], &q); err != nil {
		t.Fatalf("decode quotation: %v", err)
	}
	return q
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

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

func TestHandleCatalog(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Items []domain.CatalogItem `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) == 0 {
		t.Fatalf("seeded catalog must not be empty")
	}
}

func TestCartSessionHeaderIsMintedAndEchoed(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Fatalf("expected a minted X-Session-ID header")
	}
}

func TestCartAddUpdateRemoveFlow(t *testing.T) {
	api := newTestAPI(t)
	view := addKafka(t, api, "sess-1")
	if len(view.Lines) != 1 || view.Lines[0].UnitPrice != "₹2,000" {
		t.Fatalf("unexpected cart after add: %+v", view)
	}
	lineID := view.Lines[0].LineID

	yearly := "yearly"
	code, body := doJSON(t, api, http.MethodPatch, "/api/v1/cart/items/"+lineID, "sess-1",
		domain.CartLineUpdateRequest{Duration: &yearly})
	if code != http.StatusOK {
		t.Fatalf("patch duration: status %d", code)
	}
	if err := json.Unmarshal(body["cart"], &view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if view.Lines[0].Duration != domain.DurationYearly || view.Lines[0].UnitPrice != "₹20,000" {
		t.Fatalf("duration change must re-price from the catalog: %+v", view.Lines[0])
	}

	code, body = doJSON(t, api, http.MethodDelete, "/api/v1/cart/items/"+view.Lines[0].LineID, "sess-1", nil)
	if code != http.StatusOK {
		t.Fatalf("delete line: status %d", code)
	}
	if err := json.Unmarshal(body["cart"], &view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("cart must be empty after delete")
	}
}

func TestCartAddRejectsUnknownDuration(t *testing.T) {
	api := newTestAPI(t)
	code, _ := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", "sess-1", domain.CartAddRequest{
		ItemID:   "42",
		ItemType: "marketplace",
		Duration: "weekly",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown duration, got %d", code)
	}
}

func TestQuotationLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	q := createQuotation(t, api, "sess-1")

	if code, _ := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/approve", "", nil); code != http.StatusConflict {
		t.Fatalf("approve on draft: expected 409, got %d", code)
	}
	if code, _ := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/submit", "", nil); code != http.StatusOK {
		t.Fatalf("submit: status %d", code)
	}
	if code, _ := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/approve", "", nil); code != http.StatusOK {
		t.Fatalf("approve: status %d", code)
	}
	code, body := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/send", "", nil)
	if code != http.StatusOK {
		t.Fatalf("send: status %d", code)
	}
	var sent domain.Quotation
	if err := json.Unmarshal(body["quotation"], &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Status != domain.QuotationStatusSent {
		t.Fatalf("status = %s, want sent", sent.Status)
	}
}

func TestQuotationCloneOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	q := createQuotation(t, api, "sess-1")

	code, body := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/clone", "", nil)
	if code != http.StatusCreated {
		t.Fatalf("clone: status %d", code)
	}
	var dup domain.Quotation
	if err := json.Unmarshal(body["quotation"], &dup); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dup.Version != q.Version+1 || dup.ID == q.ID {
		t.Fatalf("unexpected clone: %+v", dup)
	}
}

func TestShareLinkOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	q := createQuotation(t, api, "sess-1")

	code, body := doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/share", "",
		domain.ShareToggleRequest{Enabled: true})
	if code != http.StatusOK {
		t.Fatalf("enable share: status %d", code)
	}
	var shared domain.Quotation
	if err := json.Unmarshal(body["quotation"], &shared); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if shared.ShareToken == "" {
		t.Fatalf("expected a share token")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shared/quotations/"+shared.ShareToken, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("shared view: status %d (body: %s)", rec.Code, rec.Body.String())
	}
	var view struct {
		Quotation domain.SharedQuotationView `json:"quotation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode shared view: %v", err)
	}
	if view.Quotation.QuoteNumber != q.QuoteNumber {
		t.Fatalf("shared view resolved the wrong quotation")
	}

	if code, _ = doJSON(t, api, http.MethodPost, "/api/v1/quotations/"+q.ID+"/share", "",
		domain.ShareToggleRequest{Enabled: false}); code != http.StatusOK {
		t.Fatalf("disable share: status %d", code)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/shared/quotations/"+shared.ShareToken, nil)
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("revoked link: expected 404, got %d", rec.Code)
	}
}

func TestQuotationExportCSVAndHTML(t *testing.T) {
	api := newTestAPI(t)
	q := createQuotation(t, api, "sess-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotations/"+q.ID+"/export?format=csv", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv export: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), q.QuoteNumber) {
		t.Fatalf("csv export missing quote number")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/quotations/"+q.ID+"/export?format=html", nil)
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("html export: status %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("html export content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Managed Kafka") {
		t.Fatalf("html export missing line item")
	}
}

func TestQuotationNotFound(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotations/q-missing", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	api := newTestAPI(t)
	createQuotation(t, api, "sess-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit logs: status %d", rec.Code)
	}
	var body struct {
		Logs []domain.AuditLog `json:"logs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) == 0 {
		t.Fatalf("expected audit entries after quotation creation")
	}
}
