package examples

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ambus-protocol/ambus-go/pkg/device"
	"github.com/ambus-protocol/ambus-go/pkg/registry"
	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// FrontEndConfig configures a simulated front end.
type FrontEndConfig struct {
	// Node is the bus address of the front end.
	Node wire.NodeID

	// Serial is the 8-byte electronic serial number. Empty derives one
	// from the node id.
	Serial []byte

	// Bands lists the cartridge bands to populate. Each band sits on
	// its matching port.
	Bands []int

	// FEMCVersion overrides the reported firmware version triple.
	FEMCVersion [3]byte
}

// tempSensorStride separates the six cartridge temperature sensors.
const tempSensorStride wire.RCA = 0x10

// Monitor points whose simulated value differs from the type default.
var frontEndValues = map[string][]byte{
	"CARTRIDGE_TEMP":          wire.PackFloat32(4.2),
	"SIS_CURRENT":             wire.PackFloat32(0.031),
	"SIS_HEATER_CURRENT":      wire.PackFloat32(0.4),
	"YTO_COARSE_TUNE":         wire.PackU16(2048),
	"PHOTOMIXER_VOLTAGE":      wire.PackFloat32(1.2),
	"PHOTOMIXER_CURRENT":      wire.PackFloat32(0.6),
	"PLL_LOCK_DETECT_VOLTAGE": wire.PackFloat32(4.3),
	"PLL_REF_TOTAL_POWER":     wire.PackFloat32(0.85),
	"PLL_IF_TOTAL_POWER":      wire.PackFloat32(-0.9),
	"PLL_ASSEMBLY_TEMP":       wire.PackFloat32(22.0),
	"AMC_SUPPLY_5V":           wire.PackFloat32(5.0),
	"PA_SUPPLY_3V":            wire.PackFloat32(3.0),
	"PA_SUPPLY_5V":            wire.PackFloat32(5.0),
}

// Controls whose paired monitor does not follow the SET_<name> naming
// rule.
var controlMonitorAliases = map[string]string{
	"SET_LOOP_BW":         "PLL_LOOP_BW_SELECT",
	"SET_LOCK_SB":         "PLL_LOCK_SB_SELECT",
	"SET_NULL_INTEGRATOR": "PLL_NULL_INTEGRATOR",
}

// PopulateFrontEnd adds a simulated front end to the bus: an FEMC
// module image plus a cold cartridge and local oscillator image per
// configured band.
func PopulateFrontEnd(simBus *transport.SimBus, cfg FrontEndConfig) (*transport.SimNode, error) {
	serial := cfg.Serial
	if len(serial) == 0 {
		serial = []byte{0xAC, 0xA0, 0, 0, 0, 0, 0, uint8(cfg.Node)}
	}
	if len(serial) != 8 {
		return nil, fmt.Errorf("serial must be 8 bytes, got %d", len(serial))
	}
	femcVersion := cfg.FEMCVersion
	if femcVersion == ([3]byte{}) {
		femcVersion = [3]byte{2, 8, 7}
	}

	node := simBus.AddNode(cfg.Node, serial)

	if err := populateModule(node, serial, femcVersion); err != nil {
		return nil, err
	}
	for _, band := range cfg.Bands {
		if band < 1 || band > 10 {
			return nil, fmt.Errorf("band %d out of range 1..10", band)
		}
		if err := populateBand(node, band); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// populateModule writes the generic and FEMC register images and wires
// their control behaviors.
func populateModule(node *transport.SimNode, serial []byte, femcVersion [3]byte) error {
	reg, err := registry.Compose(device.GenericLayer(), device.ModuleLayer())
	if err != nil {
		return err
	}
	img := image{node: node, reg: reg}

	img.set("PROTOCOL_REV", []byte{1, 0, 0})
	img.set("DEVICE_ERRORS", []byte{0, 0, 0, 0})
	img.set("TRANS_COUNT", wire.PackU32(0))
	img.set("BOARD_TEMPERATURE", []byte{0x32, 0, 0, 0})
	img.set("FIRMWARE_REV", []byte{1, 2, 3})
	img.set("AMBSI_VERSION", []byte{1, 0, 0})
	img.set("SETUP_INFO", []byte{0})
	img.set("FEMC_VERSION", femcVersion[:])
	img.set("PPCOMM_TIME", make([]byte, 8))
	img.set("FPGA_VERSION", []byte{1, 0, 0})
	img.set("ESNS_FOUND", []byte{1})
	img.set("NEXT_ESN", serial)
	img.set("ERROR_QUEUE_COUNT", wire.PackU16(0))
	img.set("NEXT_ERROR", []byte{0, 0, 0, 0})
	img.set("FE_MODE", []byte{0})
	img.set("NUM_BANDS_POWERED", []byte{0})
	if img.err != nil {
		return img.err
	}

	setMode, err := reg.Resolve("SET_FE_MODE")
	if err != nil {
		return err
	}
	feMode, err := reg.Resolve("FE_MODE")
	if err != nil {
		return err
	}
	node.OnControl(setMode.RCA, func(payload []byte) {
		node.SetRegister(setMode.RCA, payload)
		node.SetRegister(feMode.RCA, payload)
	})

	readESN, err := reg.Resolve("SET_READ_ESN")
	if err != nil {
		return err
	}
	node.OnControl(readESN.RCA, func(payload []byte) {
		node.SetRegister(readESN.RCA, payload)
	})

	setPower, err := reg.Resolve("SET_CART_POWER")
	if err != nil {
		return err
	}
	power, err := reg.Resolve("CART_POWER")
	if err != nil {
		return err
	}
	numPowered, err := reg.Resolve("NUM_BANDS_POWERED")
	if err != nil {
		return err
	}

	var mu sync.Mutex
	powered := make(map[int]bool)
	for band := 1; band <= 10; band++ {
		band := band
		offset := wire.RCA(band-1) << 4
		node.SetRegister(power.RCA+offset, []byte{0})
		node.OnControl(setPower.RCA+offset, func(payload []byte) {
			on := len(payload) > 0 && payload[0] != 0
			mu.Lock()
			powered[band] = on
			count := 0
			for _, p := range powered {
				if p {
					count++
				}
			}
			mu.Unlock()
			node.SetRegister(setPower.RCA+offset, payload)
			node.SetRegister(power.RCA+offset, payload)
			node.SetRegister(numPowered.RCA, []byte{uint8(count)})
		})
	}

	return nil
}

// populateBand writes the cartridge register images for one band and
// echoes its controls back to their monitors.
func populateBand(node *transport.SimNode, band int) error {
	reg, err := registry.Compose(
		device.ColdCartridgeLayer(band),
		device.LocalOscillatorLayer(band),
	)
	if err != nil {
		return err
	}

	for _, name := range reg.Names() {
		d, err := reg.Resolve(name)
		if err != nil {
			return err
		}
		if d.Dir != wire.Monitor {
			continue
		}
		value, ok := frontEndValues[name]
		if !ok {
			value = defaultValue(d.ReplyLength)
		}
		node.SetRegister(d.RCA, value)
	}

	// The six temperature sensors share one descriptor; fill in the
	// other five.
	temp, err := reg.Resolve("CARTRIDGE_TEMP")
	if err != nil {
		return err
	}
	for i := 1; i < 6; i++ {
		node.SetRegister(temp.RCA+wire.RCA(i)*tempSensorStride, frontEndValues["CARTRIDGE_TEMP"])
	}

	// Echo each control to its register and to the paired monitor.
	for _, name := range reg.Names() {
		d, err := reg.Resolve(name)
		if err != nil {
			return err
		}
		if d.Dir != wire.Control {
			continue
		}

		monitorName, ok := controlMonitorAliases[name]
		if !ok {
			monitorName = strings.TrimPrefix(name, "SET_")
		}

		ctlRCA := d.RCA
		if mon, err := reg.Resolve(monitorName); err == nil && mon.Dir == wire.Monitor {
			monRCA := mon.RCA
			node.OnControl(ctlRCA, func(payload []byte) {
				node.SetRegister(ctlRCA, payload)
				node.SetRegister(monRCA, payload)
			})
		}
	}

	// Clearing the unlock latch zeroes the latch monitor instead of
	// echoing the command payload.
	clearLatch, err := reg.Resolve("CLEAR_UNLOCK_LATCH")
	if err != nil {
		return err
	}
	latch, err := reg.Resolve("PLL_UNLOCK_LATCH")
	if err != nil {
		return err
	}
	node.OnControl(clearLatch.RCA, func(payload []byte) {
		node.SetRegister(clearLatch.RCA, payload)
		node.SetRegister(latch.RCA, []byte{0})
	})

	return nil
}

// image writes named monitor registers, remembering the first failure.
type image struct {
	node *transport.SimNode
	reg  *registry.Registry
	err  error
}

func (i *image) set(name string, data []byte) {
	if i.err != nil {
		return
	}
	d, err := i.reg.Resolve(name)
	if err != nil {
		i.err = err
		return
	}
	i.node.SetRegister(d.RCA, data)
}

// defaultValue returns a zero payload of the monitor's reply length.
func defaultValue(replyLength int) []byte {
	if replyLength <= 0 {
		replyLength = 8
	}
	return make([]byte, replyLength)
}
