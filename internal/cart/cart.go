// Package cart holds the in-memory quoting cart: an ordered collection of
// lines keyed by (item id, item type, duration) with O(n) aggregates.
package cart

import (
	"errors"
	"time"

	"cloudquote/backend/internal/domain"
	"cloudquote/backend/internal/pricing"
	"cloudquote/backend/internal/xid"
)

var ErrUnknownItemType = errors.New("unknown item type")

// Cart preserves insertion order and never holds two lines with the same
// identity key. It is owned by exactly one session; callers serialize access
// through the owning service.
type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{lines: make([]domain.CartLine, 0, 8)}
}

// Restore rebuilds a cart from a persisted snapshot. Entries with an unknown
// duration or item type, or a non-positive quantity, are dropped rather than
// failing the load; duplicate identity keys merge into the first occurrence.
func Restore(lines []domain.CartLine) *Cart {
	c := New()
	for _, line := range lines {
		if _, err := pricing.ParseDuration(string(line.Duration)); err != nil {
			continue
		}
		if !validItemType(line.ItemType) || line.Quantity < 1 {
			continue
		}
		_, _ = c.Add(line)
	}
	return c
}

// Add inserts a line or, when a line with the same identity key already
// exists, increments its quantity instead. A zero quantity defaults to 1.
// The resulting (possibly merged) line is returned.
func (c *Cart) Add(line domain.CartLine) (domain.CartLine, error) {
	d, err := pricing.ParseDuration(string(line.Duration))
	if err != nil {
		return domain.CartLine{}, err
	}
	line.Duration = d
	if !validItemType(line.ItemType) {
		return domain.CartLine{}, ErrUnknownItemType
	}
	if line.Quantity < 1 {
		line.Quantity = 1
	}

	for i := range c.lines {
		if sameIdentity(c.lines[i], line) {
			c.lines[i].Quantity += line.Quantity
			return cloneLine(c.lines[i]), nil
		}
	}

	if line.LineID == "" {
		line.LineID = xid.New("line")
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = time.Now().UTC()
	}
	c.lines = append(c.lines, cloneLine(line))
	return cloneLine(line), nil
}

// Remove deletes the line addressed by its synthetic id. Absent ids are a
// no-op; the returned bool reports whether anything was removed.
func (c *Cart) Remove(lineID string) bool {
	for i := range c.lines {
		if c.lines[i].LineID == lineID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveByItemID deletes every line for the item regardless of duration and
// returns the number of lines removed.
func (c *Cart) RemoveByItemID(itemID string) int {
	kept := c.lines[:0]
	removed := 0
	for _, line := range c.lines {
		if line.ItemID == itemID {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	c.lines = kept
	return removed
}

// UpdateQuantity sets a line's quantity, floored at 1. Deleting a line is an
// explicit Remove, never a quantity of zero.
func (c *Cart) UpdateQuantity(lineID string, quantity int) (domain.CartLine, bool) {
	if quantity < 1 {
		quantity = 1
	}
	for i := range c.lines {
		if c.lines[i].LineID == lineID {
			c.lines[i].Quantity = quantity
			return cloneLine(c.lines[i]), true
		}
	}
	return domain.CartLine{}, false
}

// UpdateDuration re-keys a line to a new duration with a caller-supplied unit
// price. Per-plan pricing is not a pure multiple of the monthly rate, so the
// price must come from the price source, not from duration conversion. If a
// line with the target identity key already exists the quantities merge.
func (c *Cart) UpdateDuration(lineID string, newDuration domain.Duration, newUnitPrice string) (domain.CartLine, bool, error) {
	d, err := pricing.ParseDuration(string(newDuration))
	if err != nil {
		return domain.CartLine{}, false, err
	}

	idx := -1
	for i := range c.lines {
		if c.lines[i].LineID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.CartLine{}, false, nil
	}

	line := c.lines[idx]
	line.Duration = d
	line.UnitPrice = newUnitPrice

	for i := range c.lines {
		if i != idx && sameIdentity(c.lines[i], line) {
			c.lines[i].Quantity += line.Quantity
			merged := cloneLine(c.lines[i])
			c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
			return merged, true, nil
		}
	}

	c.lines[idx] = line
	return cloneLine(line), true, nil
}

func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

// ItemCount is the sum of line quantities.
func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return count
}

// Subtotal sums unit price times quantity at each line's stored duration,
// without normalization. Lines quoted in different durations therefore mix
// time units; this mirrors how quotations bill exactly what was selected and
// is meaningful mainly for same-duration carts.
func (c *Cart) Subtotal() float64 {
	total := 0.0
	for _, line := range c.lines {
		total += pricing.Parse(line.UnitPrice) * float64(line.Quantity)
	}
	return pricing.Round2(total)
}

// MonthlySubtotal normalizes every line to its monthly-equivalent rate before
// summing, giving a comparable cross-duration total for display.
func (c *Cart) MonthlySubtotal() float64 {
	total := 0.0
	for _, line := range c.lines {
		monthly, err := pricing.MonthlyEquivalent(pricing.Parse(line.UnitPrice), line.Duration)
		if err != nil {
			// Durations are validated on entry; an invalid one here cannot happen.
			continue
		}
		total += monthly * float64(line.Quantity)
	}
	return pricing.Round2(total)
}

// SubtotalByCategory groups the monthly-equivalent subtotal by item type.
func (c *Cart) SubtotalByCategory() map[domain.ItemType]float64 {
	totals := make(map[domain.ItemType]float64, 3)
	for _, line := range c.lines {
		monthly, err := pricing.MonthlyEquivalent(pricing.Parse(line.UnitPrice), line.Duration)
		if err != nil {
			continue
		}
		totals[line.ItemType] += monthly * float64(line.Quantity)
	}
	for itemType, total := range totals {
		totals[itemType] = pricing.Round2(total)
	}
	return totals
}

// ItemsByCategory groups lines by item type, preserving insertion order both
// across groups (first appearance) and within each group.
func (c *Cart) ItemsByCategory() []domain.CartCategoryGroup {
	order := make([]domain.ItemType, 0, 3)
	grouped := make(map[domain.ItemType][]domain.CartLine, 3)
	for _, line := range c.lines {
		if _, seen := grouped[line.ItemType]; !seen {
			order = append(order, line.ItemType)
		}
		grouped[line.ItemType] = append(grouped[line.ItemType], cloneLine(line))
	}

	groups := make([]domain.CartCategoryGroup, 0, len(order))
	for _, itemType := range order {
		groups = append(groups, domain.CartCategoryGroup{ItemType: itemType, Lines: grouped[itemType]})
	}
	return groups
}

// Lines returns deep copies of the current lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(c.lines))
	for _, line := range c.lines {
		lines = append(lines, cloneLine(line))
	}
	return lines
}

// Snapshot freezes the current lines for persistence or quotation building.
// The snapshot is independent of later cart mutation.
func (c *Cart) Snapshot() []domain.CartLine {
	return c.Lines()
}

func sameIdentity(a domain.CartLine, b domain.CartLine) bool {
	return a.ItemID == b.ItemID && a.ItemType == b.ItemType && a.Duration == b.Duration
}

func validItemType(t domain.ItemType) bool {
	switch t {
	case domain.ItemTypeMarketplace, domain.ItemTypeProduct, domain.ItemTypeSolution:
		return true
	}
	return false
}

func cloneLine(src domain.CartLine) domain.CartLine {
	dup := src
	if len(src.Specifications) > 0 {
		dup.Specifications = append([]string(nil), src.Specifications...)
	}
	if len(src.Features) > 0 {
		dup.Features = append([]string(nil), src.Features...)
	}
	return dup
}
