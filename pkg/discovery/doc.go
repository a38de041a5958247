// Package discovery advertises and finds remote bus adapters on the
// local network.
//
// A bridge host advertises one _ambus._tcp service per adapter it
// exposes. The TXT record carries the adapter id, its channel count and
// the protocol profile the far bus speaks, so an operator tool can
// build the "tcp:" adapter string and pick timing defaults without any
// out-of-band configuration.
package discovery
