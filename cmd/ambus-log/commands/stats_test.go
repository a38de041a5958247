package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryFrame},
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryFrame},
		{Timestamp: ts, Layer: log.LayerBus, Category: log.CategoryTransaction},
	}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Total Events: 3") {
		t.Errorf("expected total count, got: %s", output)
	}
	if !strings.Contains(output, "TRANSPORT:") || !strings.Contains(output, "BUS:") {
		t.Errorf("expected layer counts, got: %s", output)
	}
}

func TestStatsTracksSessions(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts,
			SessionID: "aaaaaaaa-1111",
			AdapterID: "sim0",
			Category:  log.CategoryTransaction,
			Transaction: &log.TransactionEvent{
				Kind: wire.Monitor, Node: 0x13, RCA: 0x30,
				Attempts: 2, Elapsed: 3 * time.Millisecond,
			},
		},
		{Timestamp: ts.Add(time.Second), SessionID: "bbbbbbbb-2222", Category: log.CategoryFrame},
	}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Sessions: 2") {
		t.Errorf("expected 2 sessions, got: %s", output)
	}
	if !strings.Contains(output, "Adapter: sim0") {
		t.Errorf("expected adapter id, got: %s", output)
	}
	if !strings.Contains(output, "Transactions: 1") {
		t.Errorf("expected transaction count, got: %s", output)
	}
	if !strings.Contains(output, "Retried Transactions: 1") {
		t.Errorf("expected retry count, got: %s", output)
	}
}

func TestStatsCountsErrors(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "timeout"}},
		{Timestamp: ts, Category: log.CategoryFrame},
	}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	if !strings.Contains(buf.String(), "Errors: 1") {
		t.Errorf("expected error count, got: %s", buf.String())
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero total, got: %s", buf.String())
	}
}
