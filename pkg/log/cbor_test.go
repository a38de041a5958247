package log

import (
	"testing"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func TestEncodeDecodeEvent(t *testing.T) {
	event := Event{
		Timestamp: time.Now().Truncate(time.Microsecond),
		SessionID: "b5d1e8aa-3c0f-4f1a-9c9e-0123456789ab",
		Direction: DirectionOut,
		Layer:     LayerBus,
		Category:  CategoryTransaction,
		AdapterID: "sim0",
		Transaction: &TransactionEvent{
			Kind:     wire.Control,
			Node:     0x13,
			RCA:      0x12008,
			Name:     "SIS_VOLTAGE",
			Payload:  []byte{0x40, 0x0C, 0xCC, 0xCD},
			Attempts: 2,
			Elapsed:  3 * time.Millisecond,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if got.SessionID != event.SessionID {
		t.Errorf("SessionID: got %q, want %q", got.SessionID, event.SessionID)
	}
	if got.Category != CategoryTransaction {
		t.Errorf("Category: got %v, want TRANSACTION", got.Category)
	}
	if got.Transaction == nil {
		t.Fatal("Transaction payload lost")
	}
	if got.Transaction.Node != 0x13 || got.Transaction.RCA != 0x12008 {
		t.Errorf("address lost: node 0x%02X RCA 0x%05X",
			uint8(got.Transaction.Node), uint32(got.Transaction.RCA))
	}
	if got.Transaction.Attempts != 2 {
		t.Errorf("Attempts: got %d, want 2", got.Transaction.Attempts)
	}
	if !got.Timestamp.Equal(event.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", got.Timestamp, event.Timestamp)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Error("expected error for malformed CBOR")
	}
}
