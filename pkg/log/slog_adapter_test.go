package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slogger := slog.New(handler)

	adapter := NewSlogAdapter(slogger)

	adapter.Log(Event{
		Timestamp: time.Now(),
		SessionID: "session-123",
		Direction: DirectionOut,
		Layer:     LayerTransport,
		Category:  CategoryFrame,
		Frame: &FrameEvent{
			ID:   0x20512008,
			Data: []byte{0x01, 0x02},
		},
	})

	output := buf.String()
	if output == "" {
		t.Fatal("no output produced")
	}

	var logEntry map[string]any
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if logEntry["session_id"] != "session-123" {
		t.Errorf("session_id: got %v, want %q", logEntry["session_id"], "session-123")
	}
	if logEntry["direction"] != "OUT" {
		t.Errorf("direction: got %v, want %q", logEntry["direction"], "OUT")
	}
	if logEntry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v, want %q", logEntry["layer"], "TRANSPORT")
	}
	if logEntry["frame_len"] != float64(2) {
		t.Errorf("frame_len: got %v, want %v", logEntry["frame_len"], 2)
	}
}

func TestSlogAdapterLogsTransactionEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slogger := slog.New(handler)

	adapter := NewSlogAdapter(slogger)

	adapter.Log(Event{
		Timestamp: time.Now(),
		SessionID: "session-456",
		Direction: DirectionOut,
		Layer:     LayerBus,
		Category:  CategoryTransaction,
		Transaction: &TransactionEvent{
			Kind:     wire.Monitor,
			Node:     0x13,
			RCA:      0x2008,
			Name:     "SIS_VOLTAGE",
			Attempts: 1,
		},
	})

	output := buf.String()
	if output == "" {
		t.Fatal("no output produced")
	}

	var logEntry map[string]any
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if logEntry["kind"] != "monitor" {
		t.Errorf("kind: got %v, want %q", logEntry["kind"], "monitor")
	}
	if logEntry["node"] != float64(0x13) {
		t.Errorf("node: got %v, want %v", logEntry["node"], 0x13)
	}
	if logEntry["command"] != "SIS_VOLTAGE" {
		t.Errorf("command: got %v, want %q", logEntry["command"], "SIS_VOLTAGE")
	}
}

func TestSlogAdapterIncludesSessionID(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slogger := slog.New(handler)

	adapter := NewSlogAdapter(slogger)

	adapter.Log(Event{
		Timestamp: time.Now(),
		SessionID: "abc12345-def6-7890",
		Direction: DirectionIn,
		Layer:     LayerBus,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			NewState: "open",
		},
	})

	output := buf.String()
	if !strings.Contains(output, "abc12345-def6-7890") {
		t.Error("output does not contain session ID")
	}
}
