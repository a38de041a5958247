// Package examples populates simulated buses with plausible front end
// register images.
//
// A populated node answers the monitor points of the generic, FEMC,
// cold cartridge and local oscillator personalities with sane values,
// and echoes control points back to their paired monitors, so demos
// and integration tests can run a full session without hardware.
package examples
