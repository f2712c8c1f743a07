package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloudquote/backend/internal/cart"
	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/pricing"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/service"
	"cloudquote/backend/internal/store"
	"cloudquote/backend/internal/xid"
)

type API struct {
	service       *service.Service
	allowedOrigin string
	shareLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		shareLimiter:  newAttemptLimiter(30, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	return a.csrfTokenForHour(now.Truncate(time.Hour).Unix())
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/v1/catalog", a.handleCatalog)

	mux.HandleFunc("/api/v1/cart", a.handleCart)
	mux.HandleFunc("/api/v1/cart/items", a.handleCartItems)
	mux.HandleFunc("/api/v1/cart/items/", a.handleCartItemActions)

	mux.HandleFunc("/api/v1/quotations", a.handleQuotations)
	mux.HandleFunc("/api/v1/quotations/", a.handleQuotationActions)
	mux.HandleFunc("/api/v1/shared/quotations/", a.handleSharedQuotation)
	mux.HandleFunc("/api/v1/audit-logs", a.handleAuditLogs)

	return a.withMiddleware(mux)
}

// sessionID resolves the caller's cart session from the X-Session-ID header,
// minting a fresh id when the header is absent. The id is always echoed back
// so clients can adopt it.
func (a *API) sessionID(w http.ResponseWriter, r *http.Request) string {
	sid := strings.TrimSpace(r.Header.Get("X-Session-ID"))
	if sid == "" {
		sid = xid.New("sess")
	}
	w.Header().Set("X-Session-ID", sid)
	return sid
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.Catalog(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	sessionID := a.sessionID(w, r)
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetCart(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	case http.MethodDelete:
		if err := a.service.ClearCart(r.Context(), sessionID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sessionID := a.sessionID(w, r)

	var req domain.CartAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.service.AddToCart(r.Context(), sessionID, req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": view})
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/cart/items/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusBadRequest, errors.New("invalid cart item path"))
		return
	}
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("cart line id required"))
		return
	}
	sessionID := a.sessionID(w, r)

	if itemID, ok := strings.CutPrefix(tail, "by-item/"); ok {
		if r.Method != http.MethodDelete {
			writeMethodNotAllowed(w)
			return
		}
		itemID = strings.Trim(itemID, "/")
		if itemID == "" {
			writeError(w, http.StatusBadRequest, errors.New("item id required"))
			return
		}
		view, err := a.service.RemoveItem(r.Context(), sessionID, itemID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.CartLineUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.UpdateLine(r.Context(), sessionID, tail, req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	case http.MethodDelete:
		view, err := a.service.RemoveLine(r.Context(), sessionID, tail)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQuotations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := store.QuotationFilter{
			Limit: parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := quote.ParseStatus(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			filter.Status = status
		}
		list, err := a.service.ListQuotations(r.Context(), filter)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quotations": list})
	case http.MethodPost:
		sessionID := a.sessionID(w, r)
		var req domain.QuotationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateQuotation(r.Context(), sessionID, req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"quotation": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQuotationActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/quotations/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusBadRequest, errors.New("invalid quotation path"))
		return
	}
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("quotation id required"))
		return
	}

	id := tail
	action := ""
	if idx := strings.IndexByte(tail, '/'); idx >= 0 {
		id = strings.TrimSpace(tail[:idx])
		action = strings.Trim(tail[idx+1:], "/")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("quotation id required"))
		return
	}

	switch action {
	case "":
		a.handleQuotationByID(w, r, id)
	case "submit", "approve", "reject", "send", "resubmit", "clone":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		a.handleQuotationEvent(w, r, id, action)
	case "share":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.ShareToggleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.ToggleShare(r.Context(), id, req.Enabled)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quotation": updated})
	case "notes":
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.NotesUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateNotes(r.Context(), id, req.InternalNotes)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quotation": updated})
	case "export":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		a.handleQuotationExport(w, r, id)
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown quotation action"))
	}
}

func (a *API) handleQuotationByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		q, err := a.service.GetQuotation(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quotation": q})
	case http.MethodDelete:
		if err := a.service.DeleteQuotation(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQuotationEvent(w http.ResponseWriter, r *http.Request, id string, action string) {
	var (
		q   *domain.Quotation
		err error
	)
	switch action {
	case "submit":
		q, err = a.service.SubmitQuotation(r.Context(), id)
	case "approve":
		q, err = a.service.ApproveQuotation(r.Context(), id)
	case "reject":
		q, err = a.service.RejectQuotation(r.Context(), id)
	case "send":
		q, err = a.service.MarkQuotationSent(r.Context(), id)
	case "resubmit":
		q, err = a.service.ResubmitQuotation(r.Context(), id)
	case "clone":
		q, err = a.service.CloneQuotation(r.Context(), id)
	}
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	status := http.StatusOK
	if action == "clone" {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"quotation": q})
}

func (a *API) handleQuotationExport(w http.ResponseWriter, r *http.Request, id string) {
	q, err := a.service.GetQuotation(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", q.QuoteNumber+".csv"))
		_, _ = w.Write([]byte(quotationToCSV(q)))
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(quotationToPrintableHTML(q)))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"quotation": q})
	}
}

func (a *API) handleSharedQuotation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if !a.shareLimiter.Allow("share:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many share link attempts"))
		return
	}

	prefix := "/api/v1/shared/quotations/"
	token := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if token == "" {
		writeError(w, http.StatusBadRequest, errors.New("share token required"))
		return
	}

	view, err := a.service.ResolveSharedQuotation(r.Context(), token)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotation": view})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.AuditLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token, X-Session-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, quote.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, quote.ErrValidation),
		errors.Is(err, store.ErrInvalidQuotation),
		errors.Is(err, pricing.ErrInvalidDuration),
		errors.Is(err, cart.ErrUnknownItemType):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func quotationToCSV(q *domain.Quotation) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,quote_number,%s", q.QuoteNumber),
		fmt.Sprintf("summary,version,%d", q.Version),
		fmt.Sprintf("summary,status,%s", q.Status),
		fmt.Sprintf("summary,customer_name,%s", csvEscape(q.Customer.Name)),
		fmt.Sprintf("summary,customer_email,%s", csvEscape(q.Customer.Email)),
		fmt.Sprintf("summary,valid_until,%s", q.ValidUntil.UTC().Format(time.RFC3339)),
	}
	for _, line := range q.Lines {
		lines = append(lines, fmt.Sprintf("line,%s,%s x%d @ %s (%s)",
			line.ItemID, csvEscape(line.ItemName), line.Quantity,
			csvEscape(pricing.FormatOrContact(line.UnitPrice)), line.Duration))
	}
	lines = append(lines,
		fmt.Sprintf("totals,subtotal,%s", csvEscape(pricing.Format(q.Subtotal))),
		fmt.Sprintf("totals,tax,%s", csvEscape(pricing.Format(q.TaxAmount))),
		fmt.Sprintf("totals,grand_total,%s", csvEscape(pricing.Format(q.GrandTotal))),
	)
	return strings.Join(lines, "\n") + "\n"
}

func csvEscape(field string) string {
	if strings.ContainsAny(field, ",\"\n") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return field
}

// quotationHTMLTmpl renders the printable quotation. All user-controlled
// fields are auto-escaped by html/template to prevent XSS.
var quotationHTMLTmpl = template.Must(template.New("quotation").Funcs(template.FuncMap{
	"price": pricing.FormatOrContact,
	"money": pricing.Format,
	"percent": func(rate float64) float64 {
		return rate * 100
	},
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Quotation {{.QuoteNumber}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Quotation {{.QuoteNumber}} (v{{.Version}})</h2>
  <p>Status: {{.Status}} | Valid until: {{.ValidUntil.Format "2006-01-02"}}</p>
  <p>Customer: {{.Customer.Name}}{{with .Customer.Company}} ({{.}}){{end}} &lt;{{.Customer.Email}}&gt;</p>

  <h3>Items</h3>
  <table>
    <thead><tr><th>Item</th><th>Plan</th><th>Duration</th><th>Unit Price</th><th>Qty</th></tr></thead>
    <tbody>{{range .Lines}}<tr><td>{{.ItemName}}</td><td>{{.PlanName}}</td><td>{{.Duration}}</td><td style="text-align:right;">{{price .UnitPrice}}</td><td style="text-align:right;">{{.Quantity}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Totals</h3>
  <p>Subtotal: {{money .Subtotal}} | Tax ({{printf "%.0f%%" (percent .TaxRate)}}): {{money .TaxAmount}} | Grand total: {{money .GrandTotal}}</p>
</body>
</html>
`))

func quotationToPrintableHTML(q *domain.Quotation) string {
	var buf bytes.Buffer
	if err := quotationHTMLTmpl.Execute(&buf, q); err != nil {
		// Fallback: return a plain error page rather than leaking internal details.
		return "<!doctype html><html><body><p>Quotation rendering error.</p></body></html>"
	}
	return buf.String()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
