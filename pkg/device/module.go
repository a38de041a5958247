package device

import (
	"context"
	"fmt"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/registry"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// FEMC module special RCAs. These are absolute, not port-relative.
const (
	rcaAMBSIVersion    wire.RCA = 0x20000
	rcaSetupInfo       wire.RCA = 0x20001
	rcaFEMCVersion     wire.RCA = 0x20002
	rcaPPCommTime      wire.RCA = 0x20007
	rcaFPGAVersion     wire.RCA = 0x20008
	rcaESNsFound       wire.RCA = 0x2000A
	rcaNextESN         wire.RCA = 0x2000B
	rcaErrorQueueCount wire.RCA = 0x2000C
	rcaNextError       wire.RCA = 0x2000D
	rcaFEMode          wire.RCA = 0x2000E
	rcaSetFEMode       wire.RCA = 0x2100E
	rcaSetReadESN      wire.RCA = 0x2100F

	// Power distribution module, one register per band at 0x10 spacing.
	rcaCartPower       wire.RCA = 0x0A00C
	rcaSetCartPower    wire.RCA = 0x1A00C
	rcaNumBandsPowered wire.RCA = 0x0A0A0
)

// FEMC ports. Each cartridge band and front end subsystem hangs off its
// own port; the port number selects a 4096-register window.
const (
	PortFEMCModule = 0
	PortBand1      = 1
	PortBand2      = 2
	PortBand3      = 3
	PortBand4      = 4
	PortBand5      = 5
	PortBand6      = 6
	PortBand7      = 7
	PortBand8      = 8
	PortBand9      = 9
	PortBand10     = 10
	PortPowerDist  = 11
	PortIFSwitch   = 12
	PortCryostat   = 13
	PortLPR        = 14
	PortFETIM      = 15
)

// PortOffset returns the RCA offset of a port's register window.
func PortOffset(port int) wire.RCA {
	if port <= 0 {
		return 0
	}
	return wire.RCA(port-1) << 12
}

// FEMode is the front end operating mode.
type FEMode uint8

const (
	FEModeOperational FEMode = iota
	FEModeTroubleshooting
	FEModeMaintenance
	FEModeSimulate
)

// String returns the mode name.
func (m FEMode) String() string {
	switch m {
	case FEModeOperational:
		return "operational"
	case FEModeTroubleshooting:
		return "troubleshooting"
	case FEModeMaintenance:
		return "maintenance"
	case FEModeSimulate:
		return "simulate"
	default:
		return fmt.Sprintf("FEMode(%d)", uint8(m))
	}
}

// esnRescanSettle is how long the module needs to rescan its 1-wire bus
// after SET_READ_ESN.
const esnRescanSettle = 200 * time.Millisecond

// ModuleLayer describes the FEMC module's own monitor and control
// points: version info, operating mode, ESN scanning and cartridge
// power distribution.
func ModuleLayer() registry.Layer {
	return registry.Layer{Name: "femc", Descriptors: []registry.Descriptor{
		{Name: "AMBSI_VERSION", RCA: rcaAMBSIVersion, Dir: wire.Monitor, ReplyLength: 3, Decode: wire.DecodeVersion,
			Label: "interface board firmware version"},
		{Name: "SETUP_INFO", RCA: rcaSetupInfo, Dir: wire.Monitor, ReplyLength: 1, Decode: wire.DecodeU8,
			Label: "interface to controller link state"},
		{Name: "FEMC_VERSION", RCA: rcaFEMCVersion, Dir: wire.Monitor, ReplyLength: 3, Decode: wire.DecodeVersion,
			Label: "controller firmware version"},
		{Name: "PPCOMM_TIME", RCA: rcaPPCommTime, Dir: wire.Monitor, ReplyLength: 8, Decode: wire.DecodeBytes,
			Label: "parallel port turnaround probe"},
		{Name: "FPGA_VERSION", RCA: rcaFPGAVersion, Dir: wire.Monitor, ReplyLength: 3, Decode: wire.DecodeVersion,
			Label: "FPGA version"},
		{Name: "ESNS_FOUND", RCA: rcaESNsFound, Dir: wire.Monitor, ReplyLength: 1, Decode: wire.DecodeU8,
			Label: "serial numbers found"},
		{Name: "NEXT_ESN", RCA: rcaNextESN, Dir: wire.Monitor, ReplyLength: 8, Decode: wire.DecodeBytes,
			Label: "next serial number from the queue"},
		{Name: "ERROR_QUEUE_COUNT", RCA: rcaErrorQueueCount, Dir: wire.Monitor, ReplyLength: 2, Decode: wire.DecodeU16,
			Label: "errors waiting in the queue"},
		{Name: "NEXT_ERROR", RCA: rcaNextError, Dir: wire.Monitor, Decode: wire.DecodeBytes,
			Label: "next error from the queue"},
		{Name: "FE_MODE", RCA: rcaFEMode, Dir: wire.Monitor, ReplyLength: 1, Decode: wire.DecodeU8,
			Label: "front end operating mode"},
		{Name: "SET_FE_MODE", RCA: rcaSetFEMode, Dir: wire.Control, Encode: registry.EncodeU8},
		{Name: "SET_READ_ESN", RCA: rcaSetReadESN, Dir: wire.Control, Encode: registry.EncodeBool},
		{Name: "CART_POWER", RCA: rcaCartPower, Dir: wire.Monitor, ReplyLength: 1, Decode: wire.DecodeBool,
			Label: "cartridge power enabled"},
		{Name: "SET_CART_POWER", RCA: rcaSetCartPower, Dir: wire.Control, Encode: registry.EncodeBool},
		{Name: "NUM_BANDS_POWERED", RCA: rcaNumBandsPowered, Dir: wire.Monitor, ReplyLength: 1, Decode: wire.DecodeU8,
			Label: "bands currently powered"},
	}}
}

// Module drives the FEMC module itself: the box that routes monitor and
// control traffic to cartridges and subsystems.
type Module struct {
	Generic
}

// NewModule binds the FEMC module personality to a node.
func NewModule(conn bus.Connection, node wire.NodeID) (*Module, error) {
	f, err := New(conn, node, GenericLayer(), ModuleLayer())
	if err != nil {
		return nil, err
	}
	return &Module{Generic: Generic{Facade: f}}, nil
}

// Connect verifies the interface-to-controller link is up. The module
// reports 0 when the link came up with this request and 5 when it was
// already up.
func (m *Module) Connect(ctx context.Context) error {
	v, err := monitorValue[uint8](ctx, m.Facade, "SETUP_INFO", 0)
	if err != nil {
		return err
	}
	if v != 0 && v != 5 {
		return fmt.Errorf("device: controller link not established (setup info %d)", v)
	}
	return nil
}

// AMBSIVersion reads the interface board firmware version.
func (m *Module) AMBSIVersion(ctx context.Context) (string, error) {
	return monitorValue[string](ctx, m.Facade, "AMBSI_VERSION", 0)
}

// FEMCVersion reads the controller firmware version.
func (m *Module) FEMCVersion(ctx context.Context) (string, error) {
	return monitorValue[string](ctx, m.Facade, "FEMC_VERSION", 0)
}

// FPGAVersion reads the FPGA version.
func (m *Module) FPGAVersion(ctx context.Context) (string, error) {
	return monitorValue[string](ctx, m.Facade, "FPGA_VERSION", 0)
}

// Mode reads the front end operating mode.
func (m *Module) Mode(ctx context.Context) (FEMode, error) {
	v, err := monitorValue[uint8](ctx, m.Facade, "FE_MODE", 0)
	return FEMode(v), err
}

// SetMode switches the front end operating mode.
func (m *Module) SetMode(ctx context.Context, mode FEMode) error {
	if mode > FEModeSimulate {
		return fmt.Errorf("device: unsupported front end mode %d", uint8(mode))
	}
	return m.Control(ctx, "SET_FE_MODE", uint8(mode))
}

// ESNs returns the electronic serial numbers the module found on its
// 1-wire bus. With rescan set, the module re-enumerates the bus first.
func (m *Module) ESNs(ctx context.Context, rescan bool) ([][]byte, error) {
	if rescan {
		if err := m.Control(ctx, "SET_READ_ESN", true); err != nil {
			return nil, err
		}
		if err := sleepCtx(ctx, esnRescanSettle); err != nil {
			return nil, err
		}
	}
	n, err := monitorValue[uint8](ctx, m.Facade, "ESNS_FOUND", 0)
	if err != nil {
		return nil, err
	}
	esns := make([][]byte, 0, n)
	for i := 0; i < int(n); i++ {
		esn, err := monitorValue[[]byte](ctx, m.Facade, "NEXT_ESN", 0)
		if err != nil {
			return esns, err
		}
		esns = append(esns, esn)
	}
	return esns, nil
}

// SetBandPower enables or disables power to one cartridge band.
func (m *Module) SetBandPower(ctx context.Context, band int, enable bool) error {
	if err := checkBand(band); err != nil {
		return err
	}
	return m.ControlAt(ctx, "SET_CART_POWER", bandPowerOffset(band), enable)
}

// BandPower reads whether one cartridge band is powered.
func (m *Module) BandPower(ctx context.Context, band int) (bool, error) {
	if err := checkBand(band); err != nil {
		return false, err
	}
	return monitorValue[bool](ctx, m.Facade, "CART_POWER", bandPowerOffset(band))
}

// AllBandsOff powers down every cartridge band.
func (m *Module) AllBandsOff(ctx context.Context) error {
	for band := PortBand1; band <= PortBand10; band++ {
		if err := m.SetBandPower(ctx, band, false); err != nil {
			return err
		}
	}
	return nil
}

// NumBandsPowered reads the number of bands currently powered.
func (m *Module) NumBandsPowered(ctx context.Context) (uint8, error) {
	return monitorValue[uint8](ctx, m.Facade, "NUM_BANDS_POWERED", 0)
}

// PendingErrors reads the number of entries in the module's error queue.
func (m *Module) PendingErrors(ctx context.Context) (uint16, error) {
	return monitorValue[uint16](ctx, m.Facade, "ERROR_QUEUE_COUNT", 0)
}

// NextError pops the next entry from the module's error queue.
func (m *Module) NextError(ctx context.Context) ([]byte, error) {
	return monitorValue[[]byte](ctx, m.Facade, "NEXT_ERROR", 0)
}

func bandPowerOffset(band int) wire.RCA {
	return wire.RCA(band-1) << 4
}

func checkBand(band int) error {
	if band < PortBand1 || band > PortBand10 {
		return fmt.Errorf("device: band %d out of range 1..10", band)
	}
	return nil
}
