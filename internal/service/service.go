// Package service orchestrates carts, quotations and the share flow on top of
// the repository and the snapshot store. It owns the per-session carts and
// serializes all cart access.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"cloudquote/backend/internal/cart"
	"cloudquote/backend/internal/cartstore"
	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/pricing"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/store"
)

// Config carries quotation defaults. A nil TaxRate means the standard rate;
// an explicit zero is a valid tax-exempt configuration.
type Config struct {
	TaxRate      *float64
	ValidityDays int
}

type Service struct {
	repo      store.Repository
	snapshots cartstore.SnapshotStore
	shares    *quote.ShareTokenManager

	taxRate      float64
	validityDays int

	mu     sync.Mutex
	carts  map[string]*cart.Cart
	loaded map[string]bool
}

func New(repo store.Repository, snapshots cartstore.SnapshotStore, shares *quote.ShareTokenManager, cfg Config) *Service {
	taxRate := quote.DefaultTaxRate
	if cfg.TaxRate != nil {
		taxRate = *cfg.TaxRate
	}
	if cfg.ValidityDays == 0 {
		cfg.ValidityDays = quote.DefaultValidityDays
	}
	return &Service{
		repo:         repo,
		snapshots:    snapshots,
		shares:       shares,
		taxRate:      taxRate,
		validityDays: cfg.ValidityDays,
		carts:        make(map[string]*cart.Cart),
		loaded:       make(map[string]bool),
	}
}

func (s *Service) Catalog(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.repo.ListCatalogItems(ctx)
}

// cartFor returns the session's cart, restoring it from the snapshot store the
// first time the session is seen. Callers must hold s.mu.
func (s *Service) cartFor(ctx context.Context, sessionID string) *cart.Cart {
	if c, ok := s.carts[sessionID]; ok {
		return c
	}
	var c *cart.Cart
	if !s.loaded[sessionID] {
		s.loaded[sessionID] = true
		lines, err := s.snapshots.Load(ctx, sessionID)
		if err != nil {
			log.Printf("[service] WARN: load cart snapshot for %s: %v", sessionID, err)
		}
		if len(lines) > 0 {
			c = cart.Restore(lines)
		}
	}
	if c == nil {
		c = cart.New()
	}
	s.carts[sessionID] = c
	return c
}

// persistCart writes the snapshot after a mutation. A snapshot failure is
// logged, not surfaced: the in-memory cart already reflects the change.
func (s *Service) persistCart(ctx context.Context, sessionID string, c *cart.Cart) {
	if err := s.snapshots.Save(ctx, sessionID, c.Snapshot()); err != nil {
		log.Printf("[service] WARN: save cart snapshot for %s: %v", sessionID, err)
	}
}

func (s *Service) cartView(sessionID string, c *cart.Cart) domain.CartView {
	return domain.CartView{
		SessionID:          sessionID,
		Lines:              c.Lines(),
		ItemCount:          c.ItemCount(),
		Subtotal:           c.Subtotal(),
		MonthlySubtotal:    c.MonthlySubtotal(),
		SubtotalByCategory: c.SubtotalByCategory(),
		Groups:             c.ItemsByCategory(),
	}
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartView(sessionID, s.cartFor(ctx, sessionID)), nil
}

// AddToCart resolves the item against the catalog, fills in display metadata
// and the unit price for the requested duration, then merges the line into the
// session's cart. A request may carry its own unit price; the catalog price is
// only consulted when it does not.
func (s *Service) AddToCart(ctx context.Context, sessionID string, req domain.CartAddRequest) (domain.CartView, error) {
	duration, err := pricing.ParseDuration(req.Duration)
	if err != nil {
		return domain.CartView{}, err
	}

	line := domain.CartLine{
		ItemID:    strings.TrimSpace(req.ItemID),
		ItemType:  domain.ItemType(strings.ToLower(strings.TrimSpace(req.ItemType))),
		Duration:  duration,
		UnitPrice: strings.TrimSpace(req.UnitPrice),
		Quantity:  req.Quantity,
	}
	if line.ItemID == "" {
		return domain.CartView{}, fmt.Errorf("%w: item id is required", quote.ErrValidation)
	}

	item, err := s.repo.GetCatalogItem(ctx, line.ItemID, line.ItemType)
	switch {
	case err == nil:
		line.ItemName = item.Name
		line.ItemDescription = item.Description
		line.PlanName = item.PlanName
		line.Category = item.Category
		line.Specifications = item.Specifications
		line.Features = item.Features
		if line.UnitPrice == "" {
			price, err := s.repo.LookupPrice(ctx, line.ItemID, line.ItemType, duration)
			if err != nil {
				return domain.CartView{}, fmt.Errorf("no %s price for item %s: %w", duration, line.ItemID, err)
			}
			line.UnitPrice = price
		}
	case errors.Is(err, store.ErrNotFound) && line.UnitPrice != "":
		// Off-catalog item with a caller-supplied price; quoted as given.
	default:
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartFor(ctx, sessionID)
	if _, err := c.Add(line); err != nil {
		return domain.CartView{}, err
	}
	s.persistCart(ctx, sessionID, c)
	return s.cartView(sessionID, c), nil
}

// UpdateLine patches a cart line's quantity and/or duration. A duration change
// re-prices the line from the catalog before re-keying it.
func (s *Service) UpdateLine(ctx context.Context, sessionID string, lineID string, req domain.CartLineUpdateRequest) (domain.CartView, error) {
	if req.Quantity == nil && req.Duration == nil {
		return domain.CartView{}, fmt.Errorf("%w: nothing to update", quote.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartFor(ctx, sessionID)

	if req.Duration != nil {
		duration, err := pricing.ParseDuration(*req.Duration)
		if err != nil {
			return domain.CartView{}, err
		}
		var target *domain.CartLine
		for _, line := range c.Lines() {
			if line.LineID == lineID {
				l := line
				target = &l
				break
			}
		}
		if target == nil {
			return domain.CartView{}, store.ErrNotFound
		}
		price, err := s.repo.LookupPrice(ctx, target.ItemID, target.ItemType, duration)
		if err != nil {
			return domain.CartView{}, fmt.Errorf("no %s price for item %s: %w", duration, target.ItemID, err)
		}
		updated, ok, err := c.UpdateDuration(lineID, duration, price)
		if err != nil {
			return domain.CartView{}, err
		}
		if !ok {
			return domain.CartView{}, store.ErrNotFound
		}
		// A merge into an existing line of the target key retires the original
		// line id; the rest of the patch addresses the surviving line.
		lineID = updated.LineID
	}

	if req.Quantity != nil {
		if _, ok := c.UpdateQuantity(lineID, *req.Quantity); !ok {
			return domain.CartView{}, store.ErrNotFound
		}
	}

	s.persistCart(ctx, sessionID, c)
	return s.cartView(sessionID, c), nil
}

func (s *Service) RemoveLine(ctx context.Context, sessionID string, lineID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartFor(ctx, sessionID)
	if !c.Remove(lineID) {
		return domain.CartView{}, store.ErrNotFound
	}
	s.persistCart(ctx, sessionID, c)
	return s.cartView(sessionID, c), nil
}

func (s *Service) RemoveItem(ctx context.Context, sessionID string, itemID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartFor(ctx, sessionID)
	if c.RemoveByItemID(itemID) == 0 {
		return domain.CartView{}, store.ErrNotFound
	}
	s.persistCart(ctx, sessionID, c)
	return s.cartView(sessionID, c), nil
}

func (s *Service) ClearCart(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartFor(ctx, sessionID)
	c.Clear()
	if err := s.snapshots.Delete(ctx, sessionID); err != nil {
		log.Printf("[service] WARN: delete cart snapshot for %s: %v", sessionID, err)
	}
	return nil
}

// CreateQuotation freezes the session's cart into a draft quotation. The cart
// is only cleared after the store accepts the quotation; a validation failure
// leaves it untouched.
func (s *Service) CreateQuotation(ctx context.Context, sessionID string, req domain.QuotationCreateRequest) (*domain.Quotation, error) {
	s.mu.Lock()
	c := s.cartFor(ctx, sessionID)
	snapshot := c.Snapshot()
	s.mu.Unlock()

	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = s.validityDays
	}
	built, err := quote.Build(snapshot, req.Customer, quote.BuildOptions{
		TaxRate:       &s.taxRate,
		ValidityDays:  validityDays,
		InternalNotes: req.InternalNotes,
	})
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateQuotation(ctx, built)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	c.Clear()
	delete(s.carts, sessionID)
	delete(s.loaded, sessionID)
	s.mu.Unlock()
	if err := s.snapshots.Delete(ctx, sessionID); err != nil {
		log.Printf("[service] WARN: delete cart snapshot for %s: %v", sessionID, err)
	}

	s.audit(ctx, "quotation_create", created.ID, fmt.Sprintf("quote %s for %s", created.QuoteNumber, created.Customer.Email))
	return created, nil
}

func (s *Service) GetQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	s.applyExpiry(ctx, q)
	return q, nil
}

func (s *Service) ListQuotations(ctx context.Context, filter store.QuotationFilter) ([]domain.Quotation, error) {
	list, err := s.repo.ListQuotations(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.applyExpiry(ctx, &list[i])
	}
	return list, nil
}

// applyExpiry lazily moves an overdue quotation to expired and persists the
// change. Expiry is checked on every read; there is no background sweep.
func (s *Service) applyExpiry(ctx context.Context, q *domain.Quotation) {
	if !quote.ExpireDue(q, time.Now().UTC()) {
		return
	}
	if _, err := s.repo.UpdateQuotationStatus(ctx, q.ID, domain.QuotationStatusExpired); err != nil {
		log.Printf("[service] WARN: persist expiry of %s: %v", q.ID, err)
		return
	}
	s.audit(ctx, "quotation_expire", q.ID, "validity window elapsed")
}

func (s *Service) SubmitQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	return s.applyEvent(ctx, id, quote.EventSubmit, "quotation_submit")
}

func (s *Service) ApproveQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	return s.applyEvent(ctx, id, quote.EventApprove, "quotation_approve")
}

func (s *Service) RejectQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	return s.applyEvent(ctx, id, quote.EventReject, "quotation_reject")
}

func (s *Service) MarkQuotationSent(ctx context.Context, id string) (*domain.Quotation, error) {
	return s.applyEvent(ctx, id, quote.EventMarkSent, "quotation_send")
}

func (s *Service) ResubmitQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	return s.applyEvent(ctx, id, quote.EventResubmit, "quotation_resubmit")
}

func (s *Service) applyEvent(ctx context.Context, id string, event quote.Event, action string) (*domain.Quotation, error) {
	q, err := s.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := quote.Transition(q.Status, event)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateQuotationStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, action, id, fmt.Sprintf("%s -> %s", q.Status, next))
	return updated, nil
}

// CloneQuotation copies a quotation into a fresh draft with a bumped version
// and its own quote number. Any status may be cloned, including expired.
func (s *Service) CloneQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	src, err := s.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CreateQuotation(ctx, quote.Clone(*src, time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "quotation_clone", created.ID, fmt.Sprintf("version %d of %s", created.Version, src.QuoteNumber))
	return created, nil
}

// ToggleShare enables or disables the read-only share link. Every enable mints
// a fresh token; a disabled link's token is discarded and never comes back.
func (s *Service) ToggleShare(ctx context.Context, id string, enabled bool) (*domain.Quotation, error) {
	if _, err := s.GetQuotation(ctx, id); err != nil {
		return nil, err
	}
	token := ""
	if enabled {
		var err error
		token, err = s.shares.Issue(id)
		if err != nil {
			return nil, fmt.Errorf("issue share token: %w", err)
		}
	}
	updated, err := s.repo.SetQuotationShare(ctx, id, enabled, token)
	if err != nil {
		return nil, err
	}
	action := "share_disable"
	if enabled {
		action = "share_enable"
	}
	s.audit(ctx, action, id, "")
	return updated, nil
}

func (s *Service) UpdateNotes(ctx context.Context, id string, notes string) (*domain.Quotation, error) {
	updated, err := s.repo.UpdateQuotationNotes(ctx, id, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "quotation_notes", id, "")
	return updated, nil
}

func (s *Service) DeleteQuotation(ctx context.Context, id string) error {
	if err := s.repo.DeleteQuotation(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, "quotation_delete", id, "")
	return nil
}

// ResolveSharedQuotation turns a share token into the customer-facing view.
// The signature check rejects fabricated tokens cheaply; the store lookup is
// the source of truth, so a revoked or superseded token stops resolving the
// moment the stored token changes.
func (s *Service) ResolveSharedQuotation(ctx context.Context, token string) (*domain.SharedQuotationView, error) {
	id, err := s.shares.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: share link", store.ErrNotFound)
	}
	q, err := s.repo.GetQuotationByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if q.ID != id {
		return nil, store.ErrNotFound
	}
	s.applyExpiry(ctx, q)
	return &domain.SharedQuotationView{
		QuoteNumber: q.QuoteNumber,
		Version:     q.Version,
		Status:      q.Status,
		Customer:    q.Customer,
		Lines:       q.Lines,
		Subtotal:    q.Subtotal,
		TaxRate:     q.TaxRate,
		TaxAmount:   q.TaxAmount,
		GrandTotal:  q.GrandTotal,
		ValidUntil:  q.ValidUntil,
		CreatedAt:   q.CreatedAt,
	}, nil
}

func (s *Service) AuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

// audit records are best effort: losing one never fails the user action.
func (s *Service) audit(ctx context.Context, action string, quotationID string, detail string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Action:     action,
		EntityType: "quotation",
		EntityID:   quotationID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: audit %s for %s: %v", action, quotationID, err)
	}
}
