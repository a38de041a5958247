package commands

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
)

func readAllEvents(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("opening filtered file: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading filtered file: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestFilterBySession(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, SessionID: "keep", Category: log.CategoryFrame},
		{Timestamp: ts, SessionID: "drop", Category: log.CategoryFrame},
		{Timestamp: ts, SessionID: "keep", Category: log.CategoryState},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.ablog")

	err := RunFilter(path, FilterOptions{Output: outPath, SessionID: "keep"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	filtered := readAllEvents(t, outPath)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 events, got %d", len(filtered))
	}
	for _, e := range filtered {
		if e.SessionID != "keep" {
			t.Errorf("unexpected session: %s", e.SessionID)
		}
	}
}

func TestFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base, Category: log.CategoryFrame},
		{Timestamp: base.Add(time.Minute), Category: log.CategoryFrame},
		{Timestamp: base.Add(2 * time.Minute), Category: log.CategoryFrame},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.ablog")

	err := RunFilter(path, FilterOptions{
		Output:    outPath,
		TimeStart: base.Add(30 * time.Second).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Second).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	filtered := readAllEvents(t, outPath)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 event, got %d", len(filtered))
	}
}

func TestFilterRejectsBadTime(t *testing.T) {
	path := createTestLogFile(t, nil)
	outPath := filepath.Join(t.TempDir(), "filtered.ablog")

	err := RunFilter(path, FilterOptions{Output: outPath, TimeStart: "yesterday"})
	if err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestFilterRejectsBadLayer(t *testing.T) {
	path := createTestLogFile(t, nil)
	outPath := filepath.Join(t.TempDir(), "filtered.ablog")

	err := RunFilter(path, FilterOptions{Output: outPath, Layer: "bogus"})
	if err == nil {
		t.Error("expected error for unknown layer")
	}
}
