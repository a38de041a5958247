package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func TestOpenSimScheme(t *testing.T) {
	bus := NewSimBus(simFormat())
	node := bus.AddNode(0x13, nil)
	node.SetRegister(0x0001, []byte{0x01})
	RegisterSimBus("open-test", bus)

	session, err := Open("sim:open-test", 1_000_000)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, "sim:open-test", session.AdapterID())

	req := wire.Frame{ID: simFormat().ArbitrationID(wire.Address{Node: 0x13, RCA: 0x0001})}
	reply, err := session.Exchange(req, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, reply.Data)

	// The claim rides on the full adapter id.
	_, err = Open("sim:open-test", 1_000_000)
	assert.ErrorIs(t, err, ErrAdapterBusy)
}

func TestOpenRejectsMalformedIDs(t *testing.T) {
	if _, err := Open("no-scheme", 0); err == nil {
		t.Error("expected error for missing scheme")
	}
	if _, err := Open("can:vcan0", 0); err == nil {
		t.Error("expected error for unknown scheme")
	}
	if _, err := Open("sim:never-registered", 0); err == nil {
		t.Error("expected error for unregistered sim bus")
	}
}
