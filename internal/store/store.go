package store

import (
	"context"
	"errors"

	"cloudquote/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidQuotation = errors.New("invalid quotation")
)

type QuotationFilter struct {
	Status domain.QuotationStatus
	Limit  int
}

// Repository is the persistence collaborator behind the quoting core: the
// catalog price source and the quotation document store. Implementations
// return copies; callers never share memory with stored records.
type Repository interface {
	ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error)
	GetCatalogItem(ctx context.Context, itemID string, itemType domain.ItemType) (*domain.CatalogItem, error)
	// LookupPrice resolves the raw price string for one (item, type, duration)
	// combination. ErrNotFound when the item has no price for that duration.
	LookupPrice(ctx context.Context, itemID string, itemType domain.ItemType, duration domain.Duration) (string, error)

	// CreateQuotation persists q, assigning its id and quote number.
	CreateQuotation(ctx context.Context, q domain.Quotation) (*domain.Quotation, error)
	GetQuotation(ctx context.Context, id string) (*domain.Quotation, error)
	GetQuotationByShareToken(ctx context.Context, token string) (*domain.Quotation, error)
	ListQuotations(ctx context.Context, filter QuotationFilter) ([]domain.Quotation, error)
	UpdateQuotationStatus(ctx context.Context, id string, status domain.QuotationStatus) (*domain.Quotation, error)
	SetQuotationShare(ctx context.Context, id string, enabled bool, token string) (*domain.Quotation, error)
	UpdateQuotationNotes(ctx context.Context, id string, notes string) (*domain.Quotation, error)
	DeleteQuotation(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}
