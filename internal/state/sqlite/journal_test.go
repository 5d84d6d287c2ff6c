package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"okx-listing-bot/internal/state"
)

func TestJournalRecordsInOrder(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	steps := []state.OrderEvent{
		{At: at, ClientOrderID: "c1", InstID: "NEW-USDT", State: "SUBMITTING"},
		{At: at.Add(time.Second), ClientOrderID: "c1", OrderID: "o1", InstID: "NEW-USDT", State: "SUBMITTED"},
		{At: at.Add(2 * time.Second), ClientOrderID: "c2", OrderID: "o2", InstID: "NEW-USDT", State: "SUBMITTED"},
		{At: at.Add(3 * time.Second), ClientOrderID: "c1", OrderID: "o1", InstID: "NEW-USDT", State: "FILLED", FilledQty: "1000"},
	}
	for _, ev := range steps {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	events, err := store.Events(ctx, "c1")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].State != "SUBMITTING" || events[2].State != "FILLED" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if events[2].FilledQty != "1000" || !events[2].At.Equal(at.Add(3*time.Second)) {
		t.Fatalf("unexpected last event: %+v", events[2])
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].State != "FILLED" || recent[1].ClientOrderID != "c2" {
		t.Fatalf("unexpected recent events: %+v", recent)
	}
}

func TestJournalRequiresClientOrderID(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), state.OrderEvent{State: "FILLED"}); err == nil {
		t.Fatalf("expected error for missing client order id")
	}
}

func TestJournalCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), state.OrderEvent{ClientOrderID: "c1", State: "SUBMITTED"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
}
