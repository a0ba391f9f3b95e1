package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/unitherd/unitherd/internal/history"
)

func TestSQLiteSink_FileRoundTrip(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()

	events := []history.Event{
		{Type: history.EventStart, OccurredAt: now, Unit: "web", Pid: 12345},
		{Type: history.EventStop, OccurredAt: now.Add(time.Second), Unit: "web", Pid: 12345},
		{Type: history.EventRestart, OccurredAt: now.Add(2 * time.Second), Unit: "web", Pid: 12399, Detail: "restart after exit"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM unit_history WHERE unit = ?", "web")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query unit_history: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 events in history, got %d", count)
	}

	var detail string
	row = sink.db.QueryRowContext(ctx, "SELECT detail FROM unit_history WHERE event = ?", "restart")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("Failed to query restart detail: %v", err)
	}
	if detail != "restart after exit" {
		t.Errorf("Expected restart detail to round-trip, got %q", detail)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Unit:       "mem-unit",
		Pid:        54321,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Unit:       "cancelled-unit",
		Pid:        99999,
	}
	if err := sink.Send(ctx, event); err != nil {
		t.Logf("Expected error with cancelled context: %v", err)
	}
}
