// Package wire implements the AMBus frame codec: the pure, stateless
// mapping between monitor/control transactions and raw bus frames, and
// between reply bytes and typed values.
//
// The package has no I/O and no mutable state. A Codec is parameterized
// by a FrameFormat so that the arbitration-identifier layout stays a
// protocol-profile concern rather than something baked into the core.
package wire
