package discovery

import (
	"errors"
	"time"
)

const (
	// ServiceType is the mDNS service type for bridged bus adapters.
	ServiceType = "_ambus._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default bridge port.
	DefaultPort = 9278
)

// TXT record keys.
const (
	TXTKeyAdapterID   = "id" // adapter identifier on the bridge host
	TXTKeyChannels    = "ch" // number of bus channels behind the adapter
	TXTKeyProfile     = "pr" // protocol profile name
	TXTKeyDescription = "dn" // optional human-readable description
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

var (
	ErrMissingRequired  = errors.New("missing required field")
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrNotFound         = errors.New("service not found")
)

// AdapterInfo describes one adapter a bridge host advertises.
type AdapterInfo struct {
	// ID is the adapter identifier, unique on the bridge host. It
	// becomes the mDNS instance name.
	ID string

	// Channels is the number of bus channels behind the adapter.
	Channels int

	// Profile is the protocol profile name the far bus speaks.
	Profile string

	// Description is an optional human-readable description.
	Description string

	// Port is the bridge port. 0 means DefaultPort.
	Port uint16

	// Host is the hostname to advertise.
	Host string
}

// Validate checks the fields an advertisement requires.
func (a *AdapterInfo) Validate() error {
	if a.ID == "" {
		return ErrMissingRequired
	}
	if len(a.ID) > MaxInstanceNameLen {
		return ErrInvalidTXTRecord
	}
	if a.Channels < 1 {
		return ErrMissingRequired
	}
	if a.Profile == "" {
		return ErrMissingRequired
	}
	return nil
}

// ServiceEntry is a transport-neutral view of one mDNS answer.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToAdapterService converts an entry to an AdapterService.
func (e *ServiceEntry) ToAdapterService() (*AdapterService, error) {
	info, err := DecodeAdapterTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}

	return &AdapterService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    e.Addrs,
		AdapterID:    info.ID,
		Channels:     info.Channels,
		Profile:      info.Profile,
		Description:  info.Description,
	}, nil
}

// AdapterService is a bridged adapter found via mDNS.
type AdapterService struct {
	// InstanceName is the mDNS instance name (the adapter id).
	InstanceName string

	// Host is the hostname.
	Host string

	// Port is the bridge port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// AdapterID is the adapter identifier (from TXT "id").
	AdapterID string

	// Channels is the channel count (from TXT "ch").
	Channels int

	// Profile is the protocol profile name (from TXT "pr").
	Profile string

	// Description is the optional description (from TXT "dn").
	Description string
}
