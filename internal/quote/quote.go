// Package quote freezes carts into quotations and governs their lifecycle.
package quote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/pricing"
)

var (
	ErrValidation        = errors.New("invalid quotation input")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	DefaultTaxRate      = 0.18
	DefaultValidityDays = 30
	MinValidityDays     = 1
	MaxValidityDays     = 90
)

// Event is a caller-initiated lifecycle action. Expiry is not an event; it is
// applied by the validity window check.
type Event string

const (
	EventSubmit   Event = "submit_for_approval"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventMarkSent Event = "mark_sent"
	EventResubmit Event = "edit_and_resubmit"
)

// transitions is the complete legal state machine. Anything not listed fails
// with ErrInvalidTransition and leaves the quotation untouched.
var transitions = map[domain.QuotationStatus]map[Event]domain.QuotationStatus{
	domain.QuotationStatusDraft: {
		EventSubmit: domain.QuotationStatusPendingApproval,
	},
	domain.QuotationStatusPendingApproval: {
		EventApprove: domain.QuotationStatusApproved,
		EventReject:  domain.QuotationStatusRejected,
	},
	domain.QuotationStatusApproved: {
		EventMarkSent: domain.QuotationStatusSent,
	},
	domain.QuotationStatusRejected: {
		EventResubmit: domain.QuotationStatusDraft,
	},
}

// BuildOptions carries configuration-level inputs for Build. A zero Now means
// time.Now; a nil TaxRate means the standard default while an explicit zero is
// a tax-exempt quote; a zero ValidityDays means the 30-day default, otherwise
// clamped to [1, 90].
type BuildOptions struct {
	TaxRate       *float64
	ValidityDays  int
	InternalNotes string
	Now           time.Time
}

// Build freezes a cart snapshot plus customer data into a draft quotation.
// Nothing is persisted here; quote number and id assignment belong to the
// store, and clearing the originating cart belongs to the caller.
func Build(snapshot []domain.CartLine, customer domain.Customer, opts BuildOptions) (domain.Quotation, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(customer.Email)
	if customer.Name == "" {
		return domain.Quotation{}, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if customer.Email == "" || !strings.Contains(customer.Email, "@") {
		return domain.Quotation{}, fmt.Errorf("%w: customer email is required", ErrValidation)
	}
	if len(snapshot) == 0 {
		return domain.Quotation{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}

	taxRate := DefaultTaxRate
	if opts.TaxRate != nil {
		taxRate = *opts.TaxRate
	}
	if taxRate < 0 || taxRate >= 1 {
		return domain.Quotation{}, fmt.Errorf("%w: tax rate %v out of range", ErrValidation, taxRate)
	}

	validityDays := opts.ValidityDays
	if validityDays == 0 {
		validityDays = DefaultValidityDays
	}
	if validityDays < MinValidityDays {
		validityDays = MinValidityDays
	}
	if validityDays > MaxValidityDays {
		validityDays = MaxValidityDays
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// A quotation bills exactly what was selected: unit prices are summed at
	// their stored durations with no monthly normalization.
	subtotal := 0.0
	frozen := make([]domain.CartLine, 0, len(snapshot))
	for _, line := range snapshot {
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		subtotal += pricing.Parse(line.UnitPrice) * float64(qty)
		frozen = append(frozen, freezeLine(line))
	}
	subtotal = pricing.Round2(subtotal)
	taxAmount := pricing.Round2(subtotal * taxRate)

	return domain.Quotation{
		Version:       1,
		Status:        domain.QuotationStatusDraft,
		Customer:      customer,
		Lines:         frozen,
		Subtotal:      subtotal,
		TaxRate:       taxRate,
		TaxAmount:     taxAmount,
		GrandTotal:    pricing.Round2(subtotal + taxAmount),
		ValidUntil:    now.AddDate(0, 0, validityDays),
		InternalNotes: strings.TrimSpace(opts.InternalNotes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Transition resolves a lifecycle event against the current status.
func Transition(current domain.QuotationStatus, event Event) (domain.QuotationStatus, error) {
	next, ok := transitions[current][event]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, current)
	}
	return next, nil
}

// IsTerminal reports whether the status ends the normal flow. Rejected is not
// terminal: it may re-enter draft, so its validity window still applies.
func IsTerminal(status domain.QuotationStatus) bool {
	return status == domain.QuotationStatusSent || status == domain.QuotationStatusExpired
}

// ParseStatus guards the deserialization boundary: stored status strings
// outside the closed set are rejected rather than carried along.
func ParseStatus(raw string) (domain.QuotationStatus, error) {
	switch s := domain.QuotationStatus(strings.TrimSpace(raw)); s {
	case domain.QuotationStatusDraft,
		domain.QuotationStatusPendingApproval,
		domain.QuotationStatusApproved,
		domain.QuotationStatusSent,
		domain.QuotationStatusRejected,
		domain.QuotationStatusExpired:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
}

// ExpireDue moves a non-terminal quotation whose validity window has elapsed
// to expired. Returns true when the status changed.
func ExpireDue(q *domain.Quotation, now time.Time) bool {
	if q == nil || IsTerminal(q.Status) {
		return false
	}
	if !now.After(q.ValidUntil) {
		return false
	}
	q.Status = domain.QuotationStatusExpired
	q.UpdatedAt = now
	return true
}

// Clone produces a new draft quotation from src: version bumped, customer and
// frozen lines copied, share state reset, validity window re-opened for the
// same number of days the source had. Id and quote number are left empty for
// the store to assign.
func Clone(src domain.Quotation, now time.Time) domain.Quotation {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	windowDays := int(src.ValidUntil.Sub(src.CreatedAt).Hours() / 24)
	if windowDays < MinValidityDays || windowDays > MaxValidityDays {
		windowDays = DefaultValidityDays
	}

	dup := src
	dup.ID = ""
	dup.QuoteNumber = ""
	dup.Version = src.Version + 1
	dup.Status = domain.QuotationStatusDraft
	dup.ShareEnabled = false
	dup.ShareToken = ""
	dup.ValidUntil = now.AddDate(0, 0, windowDays)
	dup.CreatedAt = now
	dup.UpdatedAt = now

	dup.Lines = make([]domain.CartLine, 0, len(src.Lines))
	for _, line := range src.Lines {
		dup.Lines = append(dup.Lines, freezeLine(line))
	}
	return dup
}

func freezeLine(src domain.CartLine) domain.CartLine {
	dup := src
	if len(src.Specifications) > 0 {
		dup.Specifications = append([]string(nil), src.Specifications...)
	}
	if len(src.Features) > 0 {
		dup.Features = append([]string(nil), src.Features...)
	}
	return dup
}
