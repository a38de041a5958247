package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func TestFormatFrameEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	format := wire.DefaultFormat()
	event := log.Event{
		Timestamp: ts,
		SessionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		Frame: &log.FrameEvent{
			ID:   format.ArbitrationID(wire.Address{Node: 0x13, RCA: 0x30}),
			Data: []byte{0xa1, 0x01, 0x02, 0x03},
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "2026-01-28T10:15:32.123456Z") {
		t.Errorf("expected timestamp, got: %s", output)
	}
	if !strings.Contains(output, "[sess:abc12345]") {
		t.Errorf("expected shortened session ID, got: %s", output)
	}
	if !strings.Contains(output, "OUT") {
		t.Errorf("expected OUT direction, got: %s", output)
	}
	if !strings.Contains(output, "TRANSPORT") {
		t.Errorf("expected TRANSPORT layer, got: %s", output)
	}
	if !strings.Contains(output, "node 0x13, RCA 0x00030") {
		t.Errorf("expected resolved address, got: %s", output)
	}
	if !strings.Contains(output, "Data: a1010203") {
		t.Errorf("expected hex payload, got: %s", output)
	}
}

func TestFormatBroadcastFrame(t *testing.T) {
	event := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		Frame:     &log.FrameEvent{ID: wire.DefaultFormat().BroadcastID()},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	if !strings.Contains(buf.String(), "(broadcast)") {
		t.Errorf("expected broadcast label, got: %s", buf.String())
	}
}

func TestFormatTransactionEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC),
		SessionID: "abc12345",
		Direction: log.DirectionOut,
		Layer:     log.LayerBus,
		Category:  log.CategoryTransaction,
		Transaction: &log.TransactionEvent{
			Kind:     wire.Monitor,
			Node:     0x13,
			RCA:      0x30003,
			Name:     "SIS_VOLTAGE",
			Reply:    []byte{0x40, 0x06, 0x66, 0x66},
			Attempts: 2,
			Elapsed:  2333 * time.Microsecond,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "node 0x13, RCA 0x30003") {
		t.Errorf("expected target address, got: %s", output)
	}
	if !strings.Contains(output, "(SIS_VOLTAGE)") {
		t.Errorf("expected command name, got: %s", output)
	}
	if !strings.Contains(output, "Reply: 40066666") {
		t.Errorf("expected reply hex, got: %s", output)
	}
	if !strings.Contains(output, "Attempts: 2") {
		t.Errorf("expected attempt count, got: %s", output)
	}
	if !strings.Contains(output, "Duration: 2.333ms") {
		t.Errorf("expected duration, got: %s", output)
	}
}

func TestFormatStateAndErrorEvents(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, log.Event{
		Timestamp:   time.Now(),
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{OldState: "open", NewState: "closed", Reason: "shutdown"},
	})
	if !strings.Contains(buf.String(), "open -> closed") {
		t.Errorf("expected state transition, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "Reason: shutdown") {
		t.Errorf("expected reason, got: %s", buf.String())
	}

	buf.Reset()
	formatEvent(&buf, log.Event{
		Timestamp: time.Now(),
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerBus, Message: "timeout", Context: "monitor"},
	})
	if !strings.Contains(buf.String(), "Message: timeout") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Bus"); err != nil || l != log.LayerBus {
		t.Errorf("ParseLayerFlag = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("IN"); err != nil || d != log.DirectionIn {
		t.Errorf("ParseDirectionFlag = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("transaction"); err != nil || c != log.CategoryTransaction {
		t.Errorf("ParseCategoryFlag = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("snapshot"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestRunViewFilters(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryFrame, Frame: &log.FrameEvent{ID: 0x20500030}},
		{Timestamp: ts, Layer: log.LayerBus, Category: log.CategoryTransaction, Transaction: &log.TransactionEvent{Kind: wire.Monitor, Node: 0x13, RCA: 0x30, Attempts: 1}},
	}
	path := createTestLogFile(t, events)

	layer := log.LayerBus
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if strings.Contains(output, "Frame") {
		t.Errorf("transport event should be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "monitor") {
		t.Errorf("expected transaction event, got: %s", output)
	}
}
