// Package device provides typed monitor and control of the standard
// device personalities found on an AMB bus.
//
// A Facade binds a composed command registry to one node on one
// connection. Command names resolve locally: an unknown name fails
// before anything touches the bus. On top of the facade sit the
// personality wrappers, each composing the registry layers its hardware
// answers:
//
//	Generic         housekeeping points every node has
//	Module          the FEMC module: versions, mode, ESNs, band power
//	ColdCartridge   SIS mixer and LNA bias behind one FEMC port
//	LocalOscillator YTO tuning, PLL lock and power amplifier bias
//
// Register addresses inside a cartridge or oscillator are relative to
// the FEMC port window; the layer constructors bake the window offset
// in, and polarization, device and stage offsets are applied per call.
package device
