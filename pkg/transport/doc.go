// Package transport provides frame exchange sessions over bus adapters.
//
// A Session is the frame-level view of one adapter: it sends request
// frames and collects replies, with per-exchange timeouts. Two
// implementations are provided:
//
//   - SimBus: an in-process simulated bus with scriptable nodes, used by
//     tests and the ambus-sim tool.
//   - TCPSession: a client for bus adapters exposed over TCP, speaking a
//     CBOR-encoded bridge protocol with length-prefixed framing.
//
// Adapters are exclusive: at most one session may be open per adapter at
// a time. Opening a second session for the same adapter fails with
// ErrAdapterBusy until the first is closed.
//
// Sessions that can batch multiple exchanges into one round trip also
// implement BatchExchanger.
package transport
