package cartstore

import (
	"context"
	"testing"

	"cloudquote/backend/internal/domain"
)

func TestMemorySnapshotStoreRoundTrip(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	lines := []domain.CartLine{{
		LineID:    "line-1",
		ItemID:    "42",
		ItemType:  domain.ItemTypeMarketplace,
		Duration:  domain.DurationMonthly,
		UnitPrice: "₹2,000",
		Quantity:  2,
	}}

	if err := store.Save(ctx, "session-a", lines); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "session-a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].LineID != "line-1" {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}

	// The stored snapshot must not alias the caller's slice.
	lines[0].Quantity = 99
	reloaded, _ := store.Load(ctx, "session-a")
	if reloaded[0].Quantity != 2 {
		t.Fatalf("snapshot aliased caller slice, quantity %d", reloaded[0].Quantity)
	}
}

func TestMemorySnapshotStoreMissingSessionLoadsEmpty(t *testing.T) {
	store := NewMemorySnapshotStore()
	loaded, err := store.Load(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("missing snapshot must not error: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil lines for missing snapshot, got %+v", loaded)
	}
}

func TestMemorySnapshotStoreDelete(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	_ = store.Save(ctx, "session-b", []domain.CartLine{{LineID: "line-2", Quantity: 1}})
	if err := store.Delete(ctx, "session-b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, _ := store.Load(ctx, "session-b")
	if loaded != nil {
		t.Fatalf("expected snapshot gone after delete")
	}
}
