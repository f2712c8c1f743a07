// Package memory provides an in-process Repository used for development and
// tests. All methods copy on the way in and out.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/store"
	"cloudquote/backend/internal/xid"
)

type Store struct {
	mu         sync.RWMutex
	catalog    []domain.CatalogItem
	quotations map[string]domain.Quotation
	audit      []domain.AuditLog
	quoteSeq   int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{quotations: make(map[string]domain.Quotation)}
}

// NewSeeded returns a store preloaded with a small catalog so the API is
// usable without a database. Price maps intentionally include sentinel
// entries like "Contact Sales" and "N/A".
func NewSeeded() *Store {
	s := New()
	s.catalog = []domain.CatalogItem{
		{
			ItemID:   "42",
			ItemType: domain.ItemTypeMarketplace,
			Name:     "Managed Kafka",
			Category: "Streaming",
			PlanName: "Standard",
			Prices: map[domain.Duration]string{
				domain.DurationHourly:  "₹2.74",
				domain.DurationMonthly: "₹2,000",
				domain.DurationYearly:  "₹20,000",
			},
			Specifications: []string{"3 brokers", "250 GB retention"},
			Features:       []string{"Automatic failover", "TLS in transit"},
		},
		{
			ItemID:   "57",
			ItemType: domain.ItemTypeMarketplace,
			Name:     "Managed PostgreSQL",
			Category: "Databases",
			PlanName: "HA",
			Prices: map[domain.Duration]string{
				domain.DurationMonthly:   "₹4,500",
				domain.DurationQuarterly: "₹13,200",
				domain.DurationYearly:    "₹48,000",
			},
			Specifications: []string{"2 vCPU", "8 GB RAM", "100 GB SSD"},
			Features:       []string{"Point-in-time recovery"},
		},
		{
			ItemID:   "obj-std",
			ItemType: domain.ItemTypeProduct,
			Name:     "Object Storage",
			Category: "Storage",
			PlanName: "Standard",
			Prices: map[domain.Duration]string{
				domain.DurationMonthly: "₹200",
				domain.DurationYearly:  "₹2,100",
			},
			Features: []string{"S3-compatible API"},
		},
		{
			ItemID:   "gpu-a100",
			ItemType: domain.ItemTypeProduct,
			Name:     "GPU Compute A100",
			Category: "Compute",
			PlanName: "Dedicated",
			Prices: map[domain.Duration]string{
				domain.DurationHourly:  "₹310",
				domain.DurationMonthly: "₹2,26,300",
				domain.DurationYearly:  "N/A",
			},
			Specifications: []string{"1x A100 80GB", "12 vCPU"},
		},
		{
			ItemID:   "sap-suite",
			ItemType: domain.ItemTypeSolution,
			Name:     "SAP Landscape",
			Category: "Enterprise",
			PlanName: "Custom",
			Prices: map[domain.Duration]string{
				domain.DurationMonthly:    "Contact Sales",
				domain.DurationYearly:     "Contact Sales",
				domain.DurationBiAnnually: "Contact Sales",
			},
			Features: []string{"Sizing workshop included"},
		},
	}
	return s
}

func (s *Store) ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CatalogItem, 0, len(s.catalog))
	for _, item := range s.catalog {
		out = append(out, cloneCatalogItem(item))
	}
	return out, nil
}

func (s *Store) GetCatalogItem(ctx context.Context, itemID string, itemType domain.ItemType) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.catalog {
		if item.ItemID == itemID && item.ItemType == itemType {
			dup := cloneCatalogItem(item)
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) LookupPrice(ctx context.Context, itemID string, itemType domain.ItemType, duration domain.Duration) (string, error) {
	item, err := s.GetCatalogItem(ctx, itemID, itemType)
	if err != nil {
		return "", err
	}
	price, ok := item.Prices[duration]
	if !ok {
		return "", store.ErrNotFound
	}
	return price, nil
}

func (s *Store) CreateQuotation(ctx context.Context, q domain.Quotation) (*domain.Quotation, error) {
	if len(q.Lines) == 0 {
		return nil, store.ErrInvalidQuotation
	}
	if _, err := quote.ParseStatus(string(q.Status)); err != nil {
		return nil, store.ErrInvalidQuotation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteSeq++
	q.ID = xid.New("q")
	q.QuoteNumber = xid.QuoteNumber(time.Now().UTC().Year(), s.quoteSeq)
	s.quotations[q.ID] = cloneQuotation(q)
	dup := cloneQuotation(q)
	return &dup, nil
}

func (s *Store) GetQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneQuotation(q)
	return &dup, nil
}

func (s *Store) GetQuotationByShareToken(ctx context.Context, token string) (*domain.Quotation, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quotations {
		if q.ShareEnabled && q.ShareToken == token {
			dup := cloneQuotation(q)
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListQuotations(ctx context.Context, filter store.QuotationFilter) ([]domain.Quotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quotation, 0, len(s.quotations))
	for _, q := range s.quotations {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		out = append(out, cloneQuotation(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].QuoteNumber > out[j].QuoteNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateQuotationStatus(ctx context.Context, id string, status domain.QuotationStatus) (*domain.Quotation, error) {
	if _, err := quote.ParseStatus(string(status)); err != nil {
		return nil, store.ErrInvalidQuotation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	q.Status = status
	q.UpdatedAt = time.Now().UTC()
	s.quotations[id] = q
	dup := cloneQuotation(q)
	return &dup, nil
}

func (s *Store) SetQuotationShare(ctx context.Context, id string, enabled bool, token string) (*domain.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	q.ShareEnabled = enabled
	q.ShareToken = token
	q.UpdatedAt = time.Now().UTC()
	s.quotations[id] = q
	dup := cloneQuotation(q)
	return &dup, nil
}

func (s *Store) UpdateQuotationNotes(ctx context.Context, id string, notes string) (*domain.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	q.InternalNotes = notes
	q.UpdatedAt = time.Now().UTC()
	s.quotations[id] = q
	dup := cloneQuotation(q)
	return &dup, nil
}

func (s *Store) DeleteQuotation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotations[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.quotations, id)
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = xid.New("audit")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLog, len(s.audit))
	copy(out, s.audit)
	// Newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCatalogItem(src domain.CatalogItem) domain.CatalogItem {
	dup := src
	if len(src.Prices) > 0 {
		dup.Prices = make(map[domain.Duration]string, len(src.Prices))
		for k, v := range src.Prices {
			dup.Prices[k] = v
		}
	}
	if len(src.Specifications) > 0 {
		dup.Specifications = append([]string(nil), src.Specifications...)
	}
	if len(src.Features) > 0 {
		dup.Features = append([]string(nil), src.Features...)
	}
	return dup
}

func cloneQuotation(src domain.Quotation) domain.Quotation {
	dup := src
	dup.Lines = make([]domain.CartLine, 0, len(src.Lines))
	for _, line := range src.Lines {
		l := line
		if len(line.Specifications) > 0 {
			l.Specifications = append([]string(nil), line.Specifications...)
		}
		if len(line.Features) > 0 {
			l.Features = append([]string(nil), line.Features...)
		}
		dup.Lines = append(dup.Lines, l)
	}
	return dup
}
