// Package postgres implements the Repository on PostgreSQL through the pgx
// stdlib driver. Nested documents (customer, lines, price maps) are stored as
// jsonb; the schema is created on startup when missing.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/quote"
	"cloudquote/backend/internal/store"
	"cloudquote/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_items (
			item_id        TEXT NOT NULL,
			item_type      TEXT NOT NULL,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			plan_name      TEXT NOT NULL DEFAULT '',
			prices         JSONB NOT NULL DEFAULT '{}',
			specifications JSONB NOT NULL DEFAULT '[]',
			features       JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (item_id, item_type)
		)`,
		`CREATE SEQUENCE IF NOT EXISTS quotation_number_seq`,
		`CREATE TABLE IF NOT EXISTS quotations (
			id             TEXT PRIMARY KEY,
			quote_number   TEXT NOT NULL UNIQUE,
			version        INTEGER NOT NULL DEFAULT 1,
			status         TEXT NOT NULL,
			customer       JSONB NOT NULL,
			lines          JSONB NOT NULL,
			subtotal       DOUBLE PRECISION NOT NULL,
			tax_rate       DOUBLE PRECISION NOT NULL,
			tax_amount     DOUBLE PRECISION NOT NULL,
			grand_total    DOUBLE PRECISION NOT NULL,
			valid_until    TIMESTAMPTZ NOT NULL,
			share_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
			share_token    TEXT NOT NULL DEFAULT '',
			internal_notes TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotations_status ON quotations (status)`,
		`CREATE INDEX IF NOT EXISTS idx_quotations_share_token ON quotations (share_token) WHERE share_enabled`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const catalogColumns = `item_id, item_type, name, description, category, plan_name, prices, specifications, features`

func (s *Store) ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items ORDER BY item_type, name`)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	var out []domain.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) GetCatalogItem(ctx context.Context, itemID string, itemType domain.ItemType) (*domain.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE item_id = $1 AND item_type = $2`,
		itemID, string(itemType))
	item, err := scanCatalogItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) LookupPrice(ctx context.Context, itemID string, itemType domain.ItemType, duration domain.Duration) (string, error) {
	var price sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT prices ->> $3 FROM catalog_items WHERE item_id = $1 AND item_type = $2`,
		itemID, string(itemType), string(duration)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup price: %w", err)
	}
	if !price.Valid {
		return "", store.ErrNotFound
	}
	return price.String, nil
}

// UpsertCatalogItem exists for seeding and admin tooling.
func (s *Store) UpsertCatalogItem(ctx context.Context, item domain.CatalogItem) error {
	prices, err := json.Marshal(item.Prices)
	if err != nil {
		return fmt.Errorf("marshal prices: %w", err)
	}
	specs, err := json.Marshal(emptyIfNil(item.Specifications))
	if err != nil {
		return fmt.Errorf("marshal specifications: %w", err)
	}
	features, err := json.Marshal(emptyIfNil(item.Features))
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO catalog_items (`+catalogColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (item_id, item_type) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			category = EXCLUDED.category, plan_name = EXCLUDED.plan_name,
			prices = EXCLUDED.prices, specifications = EXCLUDED.specifications,
			features = EXCLUDED.features`,
		item.ItemID, string(item.ItemType), item.Name, item.Description,
		item.Category, item.PlanName, prices, specs, features)
	if err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

const quotationColumns = `id, quote_number, version, status, customer, lines,
	subtotal, tax_rate, tax_amount, grand_total, valid_until,
	share_enabled, share_token, internal_notes, created_at, updated_at`

func (s *Store) CreateQuotation(ctx context.Context, q domain.Quotation) (*domain.Quotation, error) {
	if len(q.Lines) == 0 {
		return nil, store.ErrInvalidQuotation
	}
	if _, err := quote.ParseStatus(string(q.Status)); err != nil {
		return nil, store.ErrInvalidQuotation
	}

	customer, err := json.Marshal(q.Customer)
	if err != nil {
		return nil, fmt.Errorf("marshal customer: %w", err)
	}
	lines, err := json.Marshal(q.Lines)
	if err != nil {
		return nil, fmt.Errorf("marshal lines: %w", err)
	}

	q.ID = xid.New("q")
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('quotation_number_seq')`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next quote number: %w", err)
	}
	q.QuoteNumber = xid.QuoteNumber(time.Now().UTC().Year(), seq)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quotations (`+quotationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		q.ID, q.QuoteNumber, q.Version, string(q.Status), customer, lines,
		q.Subtotal, q.TaxRate, q.TaxAmount, q.GrandTotal, q.ValidUntil,
		q.ShareEnabled, q.ShareToken, q.InternalNotes, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate quote number", store.ErrInvalidQuotation)
		}
		return nil, fmt.Errorf("insert quotation: %w", err)
	}
	return &q, nil
}

func (s *Store) GetQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	return scanQuotation(row)
}

func (s *Store) GetQuotationByShareToken(ctx context.Context, token string) (*domain.Quotation, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE share_enabled AND share_token = $1`, token)
	return scanQuotation(row)
}

func (s *Store) ListQuotations(ctx context.Context, filter store.QuotationFilter) ([]domain.Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, quote_number DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotations: %w", err)
	}
	defer rows.Close()

	var out []domain.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (s *Store) UpdateQuotationStatus(ctx context.Context, id string, status domain.QuotationStatus) (*domain.Quotation, error) {
	if _, err := quote.ParseStatus(string(status)); err != nil {
		return nil, store.ErrInvalidQuotation
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE quotations SET status = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+quotationColumns, id, string(status), time.Now().UTC())
	return scanQuotation(row)
}

func (s *Store) SetQuotationShare(ctx context.Context, id string, enabled bool, token string) (*domain.Quotation, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE quotations SET share_enabled = $2, share_token = $3, updated_at = $4 WHERE id = $1
		 RETURNING `+quotationColumns, id, enabled, token, time.Now().UTC())
	return scanQuotation(row)
}

func (s *Store) UpdateQuotationNotes(ctx context.Context, id string, notes string) (*domain.Quotation, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE quotations SET internal_notes = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+quotationColumns, id, notes, time.Now().UTC())
	return scanQuotation(row)
}

func (s *Store) DeleteQuotation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quotation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	query := `SELECT id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogItem(row rowScanner) (domain.CatalogItem, error) {
	var (
		item                 domain.CatalogItem
		itemType             string
		prices, specs, feats []byte
	)
	err := row.Scan(&item.ItemID, &itemType, &item.Name, &item.Description,
		&item.Category, &item.PlanName, &prices, &specs, &feats)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogItem{}, err
		}
		return domain.CatalogItem{}, fmt.Errorf("scan catalog item: %w", err)
	}
	item.ItemType = domain.ItemType(itemType)
	if err := json.Unmarshal(prices, &item.Prices); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode prices: %w", err)
	}
	if err := json.Unmarshal(specs, &item.Specifications); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode specifications: %w", err)
	}
	if err := json.Unmarshal(feats, &item.Features); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode features: %w", err)
	}
	return item, nil
}

func scanQuotation(row rowScanner) (*domain.Quotation, error) {
	var (
		q               domain.Quotation
		status          string
		customer, lines []byte
	)
	err := row.Scan(&q.ID, &q.QuoteNumber, &q.Version, &status, &customer, &lines,
		&q.Subtotal, &q.TaxRate, &q.TaxAmount, &q.GrandTotal, &q.ValidUntil,
		&q.ShareEnabled, &q.ShareToken, &q.InternalNotes, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan quotation: %w", err)
	}

	parsed, err := quote.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidQuotation, err)
	}
	q.Status = parsed
	if err := json.Unmarshal(customer, &q.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(lines, &q.Lines); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	return &q, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
