package wire

// MaxPayload is the largest payload a classical CAN frame can carry.
const MaxPayload = 8

// Frame is a raw bus frame: an arbitration identifier plus 0-8 data
// bytes. Monitor requests carry no data; control requests and all
// replies carry up to 8 bytes.
type Frame struct {
	ID   uint32
	Data []byte
}

// FrameFormat defines how (node, RCA) pairs map onto arbitration
// identifiers. The field widths are protocol-version defined: nothing in
// the core assumes one physical encoding, so alternate adapters or
// firmware generations can supply their own format.
//
// The mapping is:
//
//	id = ArbitrationBase + NodeStride*(node+1) + rca
//
// Every node owns a NodeStride-wide window of the identifier space; RCAs
// up to NodeStride-1 are addressable within it. A frame sent at exactly
// ArbitrationBase is the node-discovery broadcast.
type FrameFormat struct {
	// ArbitrationBase offsets all addressed traffic and doubles as the
	// discovery broadcast identifier.
	ArbitrationBase uint32

	// NodeStride is the width of each node's identifier window.
	NodeStride uint32

	// MaxNode is the highest node id the format can address.
	MaxNode NodeID

	// MaxPayload is the payload limit; at most 8.
	MaxPayload int
}

// DefaultFormat returns the classic AMB encoding: 0x20000000 base,
// 0x40000 per node, 8 byte payloads.
func DefaultFormat() FrameFormat {
	return FrameFormat{
		ArbitrationBase: 0x20000000,
		NodeStride:      0x40000,
		MaxNode:         0x7F,
		MaxPayload:      MaxPayload,
	}
}

// MaxRCA returns the highest RCA addressable within one node window.
func (f FrameFormat) MaxRCA() RCA {
	return RCA(f.NodeStride - 1)
}

// BroadcastID returns the identifier of the node-discovery broadcast.
func (f FrameFormat) BroadcastID() uint32 {
	return f.ArbitrationBase
}

// ArbitrationID maps an address onto its arbitration identifier.
func (f FrameFormat) ArbitrationID(addr Address) uint32 {
	return f.ArbitrationBase + f.NodeStride*(uint32(addr.Node)+1) + uint32(addr.RCA)
}

// AddressOf recovers the address encoded in an arbitration identifier.
// ok is false for identifiers outside the addressed window, including
// the broadcast identifier itself.
func (f FrameFormat) AddressOf(id uint32) (Address, bool) {
	if id < f.ArbitrationBase {
		return Address{}, false
	}
	rel := id - f.ArbitrationBase
	if rel < f.NodeStride {
		return Address{}, false
	}
	node := rel/f.NodeStride - 1
	if node > uint32(f.MaxNode) {
		return Address{}, false
	}
	return Address{Node: NodeID(node), RCA: RCA(rel % f.NodeStride)}, true
}

// payloadLimit clamps MaxPayload to the classical CAN limit, treating an
// unset value as the limit.
func (f FrameFormat) payloadLimit() int {
	if f.MaxPayload <= 0 || f.MaxPayload > MaxPayload {
		return MaxPayload
	}
	return f.MaxPayload
}
