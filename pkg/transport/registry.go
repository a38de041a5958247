package transport

import (
	"fmt"
	"strings"
	"sync"
)

// adapterClaims tracks which adapters have an open session. The claim is
// process-wide: a second Open for the same adapter fails until the first
// session is closed.
var adapterClaims = struct {
	mu   sync.Mutex
	open map[string]bool
}{open: make(map[string]bool)}

// claimAdapter marks the adapter as owned by a session.
func claimAdapter(adapterID string) error {
	adapterClaims.mu.Lock()
	defer adapterClaims.mu.Unlock()

	if adapterClaims.open[adapterID] {
		return fmt.Errorf("%w: %s", ErrAdapterBusy, adapterID)
	}
	adapterClaims.open[adapterID] = true
	return nil
}

// releaseAdapter returns the adapter to the pool.
func releaseAdapter(adapterID string) {
	adapterClaims.mu.Lock()
	defer adapterClaims.mu.Unlock()

	delete(adapterClaims.open, adapterID)
}

// simBuses maps registered names to simulated buses for Open.
var simBuses = struct {
	mu    sync.Mutex
	buses map[string]*SimBus
}{buses: make(map[string]*SimBus)}

// RegisterSimBus makes a simulated bus reachable through Open under
// "sim:<name>". Registering a name twice replaces the bus.
func RegisterSimBus(name string, bus *SimBus) {
	simBuses.mu.Lock()
	defer simBuses.mu.Unlock()
	simBuses.buses[name] = bus
}

// Open claims the named adapter and returns a session on it.
//
// Adapter IDs carry a scheme prefix:
//
//	sim:<name>       a SimBus registered with RegisterSimBus
//	tcp:<host:port>  a bridge server (see Dial)
//
// bitRate is the bus bit rate in bit/s. Simulated and bridged adapters
// ignore it; the bridge server owns the physical configuration.
func Open(adapterID string, bitRate int) (Session, error) {
	scheme, rest, ok := strings.Cut(adapterID, ":")
	if !ok {
		return nil, fmt.Errorf("adapter id %q has no scheme", adapterID)
	}

	switch scheme {
	case "sim":
		simBuses.mu.Lock()
		bus := simBuses.buses[rest]
		simBuses.mu.Unlock()
		if bus == nil {
			return nil, fmt.Errorf("unknown sim bus %q", rest)
		}
		return bus.Open(adapterID)
	case "tcp":
		return Dial(rest)
	default:
		return nil, fmt.Errorf("unknown adapter scheme %q", scheme)
	}
}
