// Package profile ships the protocol profiles the stack can speak.
//
// A profile bundles the arbitration-identifier layout with the timing
// defaults a connection should use on that kind of bus. Profiles are
// embedded YAML manifests so a binary always carries the layouts it was
// built against.
package profile

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

//go:embed specs/*.yaml
var specFS embed.FS

// DefaultName is the profile every tool assumes when none is given.
const DefaultName = "amb-classic"

// Profile describes one protocol revision: its identifier layout and
// the timing a connection should default to.
type Profile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Wire        WireSpec   `yaml:"wire"`
	Timing      TimingSpec `yaml:"timing"`
}

// WireSpec is the arbitration-identifier layout of a profile.
type WireSpec struct {
	ArbitrationBase uint32 `yaml:"arbitration_base"`
	NodeStride      uint32 `yaml:"node_stride"`
	MaxNode         uint8  `yaml:"max_node"`
	MaxPayload      int    `yaml:"max_payload"`
}

// TimingSpec holds the timing defaults of a profile.
type TimingSpec struct {
	BitRate          int `yaml:"bit_rate"`
	MonitorTimeoutMS int `yaml:"monitor_timeout_ms"`
	Retries          int `yaml:"retries"`
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Profile)
)

// Load loads an embedded profile by name.
func Load(name string) (*Profile, error) {
	cacheMu.RLock()
	if p, ok := cache[name]; ok {
		cacheMu.RUnlock()
		return p, nil
	}
	cacheMu.RUnlock()

	data, err := specFS.ReadFile("specs/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("profile %q not found: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %q: %w", name, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = &p
	cacheMu.Unlock()

	return &p, nil
}

// Default returns the profile named DefaultName. The manifest is part
// of the build, so a load failure is a packaging bug and panics.
func Default() *Profile {
	p, err := Load(DefaultName)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the names of all embedded profiles, sorted.
func Names() ([]string, error) {
	entries, err := specFS.ReadDir("specs")
	if err != nil {
		return nil, fmt.Errorf("reading profile directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("missing name")
	}
	if p.Wire.ArbitrationBase == 0 {
		return fmt.Errorf("missing wire.arbitration_base")
	}
	if p.Wire.NodeStride == 0 {
		return fmt.Errorf("missing wire.node_stride")
	}
	if p.Wire.MaxPayload < 1 || p.Wire.MaxPayload > wire.MaxPayload {
		return fmt.Errorf("wire.max_payload %d out of range 1..%d", p.Wire.MaxPayload, wire.MaxPayload)
	}
	if p.Timing.MonitorTimeoutMS <= 0 {
		return fmt.Errorf("missing timing.monitor_timeout_ms")
	}
	return nil
}

// Format returns the profile's identifier layout as a frame format.
func (p *Profile) Format() wire.FrameFormat {
	return wire.FrameFormat{
		ArbitrationBase: p.Wire.ArbitrationBase,
		NodeStride:      p.Wire.NodeStride,
		MaxNode:         wire.NodeID(p.Wire.MaxNode),
		MaxPayload:      p.Wire.MaxPayload,
	}
}

// Timeout returns the profile's monitor reply timeout.
func (p *Profile) Timeout() time.Duration {
	return time.Duration(p.Timing.MonitorTimeoutMS) * time.Millisecond
}

// BusConfig returns a connection config carrying the profile's format
// and timing. A zero retry budget is passed through as -1 so the
// profile value wins over the connection-level default.
func (p *Profile) BusConfig() bus.Config {
	retries := p.Timing.Retries
	if retries == 0 {
		retries = -1
	}
	return bus.Config{
		Format:  p.Format(),
		Timeout: p.Timeout(),
		Retries: retries,
	}
}
