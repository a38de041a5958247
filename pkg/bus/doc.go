// Package bus provides transaction-level access to devices on the bus.
//
// A Transaction names one monitor (read) or control (write) exchange
// with a register on a node. Connection implementations execute
// transactions over a transport session:
//
//   - Conn performs one adapter exchange per transaction and works on
//     every transport.
//   - BatchConn additionally hands whole sequences to the adapter in one
//     round trip when the transport supports batching.
//
// Both serialize all traffic behind a mutex: the bus carries no
// transaction identifiers, so at most one request may be in flight per
// session. Reply timeouts are retried exactly once before being
// surfaced; any other transport fault marks the session dead and every
// later call fails fast until the caller reopens.
package bus
