package domain

import "time"

// ItemType is the closed set of quotable catalog categories. Anything outside
// these three is rejected at the request boundary.
type ItemType string

const (
	ItemTypeMarketplace ItemType = "marketplace"
	ItemTypeProduct     ItemType = "product"
	ItemTypeSolution    ItemType = "solution"
)

// Duration is a billing period a price is expressed in. The set is closed;
// conversion factors live in the pricing package.
type Duration string

const (
	DurationHourly       Duration = "hourly"
	DurationMonthly      Duration = "monthly"
	DurationQuarterly    Duration = "quarterly"
	DurationSemiAnnually Duration = "semi-annually"
	DurationYearly       Duration = "yearly"
	DurationBiAnnually   Duration = "bi-annually"
	DurationTriAnnually  Duration = "tri-annually"
)

// QuotationStatus values form the lifecycle state machine in the quote package.
// Stored status strings outside this set are rejected when deserialized.
type QuotationStatus string

const (
	QuotationStatusDraft           QuotationStatus = "draft"
	QuotationStatusPendingApproval QuotationStatus = "pending_approval"
	QuotationStatusApproved        QuotationStatus = "approved"
	QuotationStatusSent            QuotationStatus = "sent"
	QuotationStatusRejected        QuotationStatus = "rejected"
	QuotationStatusExpired         QuotationStatus = "expired"
)

// CartLine is one quoted line item. Identity is (ItemID, ItemType, Duration);
// LineID is a synthetic handle for UI addressing only.
type CartLine struct {
	LineID          string    `json:"line_id"`
	ItemID          string    `json:"item_id"`
	ItemType        ItemType  `json:"item_type"`
	ItemName        string    `json:"item_name"`
	ItemDescription string    `json:"item_description,omitempty"`
	PlanName        string    `json:"plan_name,omitempty"`
	Duration        Duration  `json:"duration"`
	UnitPrice       string    `json:"unit_price"`
	Quantity        int       `json:"quantity"`
	Specifications  []string  `json:"specifications,omitempty"`
	Features        []string  `json:"features,omitempty"`
	Category        string    `json:"category,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

type Customer struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	GSTID   string `json:"gst_id,omitempty"`
}

// Quotation is a frozen cart plus customer data. After creation only Status,
// the share fields and InternalNotes may change; Lines and totals are immutable.
type Quotation struct {
	ID            string          `json:"id"`
	QuoteNumber   string          `json:"quote_number"`
	Version       int             `json:"version"`
	Status        QuotationStatus `json:"status"`
	Customer      Customer        `json:"customer"`
	Lines         []CartLine      `json:"lines"`
	Subtotal      float64         `json:"subtotal"`
	TaxRate       float64         `json:"tax_rate"`
	TaxAmount     float64         `json:"tax_amount"`
	GrandTotal    float64         `json:"grand_total"`
	ValidUntil    time.Time       `json:"valid_until"`
	ShareEnabled  bool            `json:"share_enabled"`
	ShareToken    string          `json:"share_token,omitempty"`
	InternalNotes string          `json:"internal_notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CatalogItem is one priceable entry exposed by the price source. Prices holds
// the raw display string per duration; entries may be sentinels such as
// "Contact Sales" or "N/A" and are normalized by the pricing package.
type CatalogItem struct {
	ItemID         string              `json:"item_id"`
	ItemType       ItemType            `json:"item_type"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Category       string              `json:"category,omitempty"`
	PlanName       string              `json:"plan_name,omitempty"`
	Prices         map[Duration]string `json:"prices"`
	Specifications []string            `json:"specifications,omitempty"`
	Features       []string            `json:"features,omitempty"`
}

type CartAddRequest struct {
	ItemID    string `json:"item_id"`
	ItemType  string `json:"item_type"`
	Duration  string `json:"duration"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
}

// CartLineUpdateRequest patches a single cart line. Duration changes re-key the
// line and re-resolve its unit price from the catalog.
type CartLineUpdateRequest struct {
	Quantity *int    `json:"quantity,omitempty"`
	Duration *string `json:"duration,omitempty"`
}

type CartCategoryGroup struct {
	ItemType ItemType   `json:"item_type"`
	Lines    []CartLine `json:"lines"`
}

type CartView struct {
	SessionID          string               `json:"session_id"`
	Lines              []CartLine           `json:"lines"`
	ItemCount          int                  `json:"item_count"`
	Subtotal           float64              `json:"subtotal"`
	MonthlySubtotal    float64              `json:"monthly_subtotal"`
	SubtotalByCategory map[ItemType]float64 `json:"subtotal_by_category"`
	Groups             []CartCategoryGroup  `json:"groups"`
}

type QuotationCreateRequest struct {
	Customer      Customer `json:"customer"`
	ValidityDays  int      `json:"validity_days,omitempty"`
	InternalNotes string   `json:"internal_notes,omitempty"`
}

type ShareToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type NotesUpdateRequest struct {
	InternalNotes string `json:"internal_notes"`
}

type SharedQuotationView struct {
	QuoteNumber string          `json:"quote_number"`
	Version     int             `json:"version"`
	Status      QuotationStatus `json:"status"`
	Customer    Customer        `json:"customer"`
	Lines       []CartLine      `json:"lines"`
	Subtotal    float64         `json:"subtotal"`
	TaxRate     float64         `json:"tax_rate"`
	TaxAmount   float64         `json:"tax_amount"`
	GrandTotal  float64         `json:"grand_total"`
	ValidUntil  time.Time       `json:"valid_until"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
