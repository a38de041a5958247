package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/registry"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Cold cartridge RCAs, relative to the cartridge's port window.
// Controls live at the monitor RCA plus the command offset.
const (
	ccaCmdOffset        wire.RCA = 0x10000
	ccaPol1Offset       wire.RCA = 0x0400
	ccaDevice2Offset    wire.RCA = 0x0080
	ccaTempSensorOffset wire.RCA = 0x0010
	ccaLNAStageOffset   wire.RCA = 0x0004

	ccaSISVoltage       wire.RCA = 0x0008
	ccaSISCurrent       wire.RCA = 0x0010
	ccaSISOpenLoop      wire.RCA = 0x0018
	ccaSISMagnetVoltage wire.RCA = 0x0020
	ccaSISMagnetCurrent wire.RCA = 0x0030
	ccaLNADrainVoltage  wire.RCA = 0x0040
	ccaLNADrainCurrent  wire.RCA = 0x0041
	ccaLNAGateVoltage   wire.RCA = 0x0042
	ccaLNAEnable        wire.RCA = 0x0058
	ccaLNALEDEnable     wire.RCA = 0x0100
	ccaSISHeaterEnable  wire.RCA = 0x0180
	ccaSISHeaterCurrent wire.RCA = 0x01C0
	ccaCartridgeTemp    wire.RCA = 0x0880
)

// ErrNoSIS reports an SIS operation against a band without SIS mixers.
var ErrNoSIS = errors.New("device: band has no SIS mixer")

// HasSIS reports whether a band's receiver uses SIS mixers.
func HasSIS(band int) bool { return band >= 3 }

// HasSIS2 reports whether a band has a second SIS device per
// polarization.
func HasSIS2(band int) bool { return band >= 3 && band <= 8 }

// ColdCartridgeLayer describes the cold cartridge bias module behind the
// given FEMC port. The port window offset is baked into every RCA;
// polarization, device and stage offsets are applied per call.
func ColdCartridgeLayer(port int) registry.Layer {
	base := PortOffset(port)
	f32 := func(name string, rca wire.RCA, label, units string) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + rca, Dir: wire.Monitor,
			ReplyLength: 4, Decode: wire.DecodeFloat32, Label: label, Units: units}
	}
	flag := func(name string, rca wire.RCA, label string) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + rca, Dir: wire.Monitor,
			ReplyLength: 1, Decode: wire.DecodeBool, Label: label}
	}
	setF32 := func(name string, rca wire.RCA) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + ccaCmdOffset + rca, Dir: wire.Control,
			Encode: registry.EncodeFloat32}
	}
	setFlag := func(name string, rca wire.RCA) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + ccaCmdOffset + rca, Dir: wire.Control,
			Encode: registry.EncodeBool}
	}
	return registry.Layer{Name: fmt.Sprintf("cca-port%d", port), Descriptors: []registry.Descriptor{
		f32("CARTRIDGE_TEMP", ccaCartridgeTemp, "cartridge temperature sensor", "K"),
		f32("SIS_VOLTAGE", ccaSISVoltage, "SIS junction voltage", "mV"),
		f32("SIS_CURRENT", ccaSISCurrent, "SIS junction current", "mA"),
		flag("SIS_OPEN_LOOP", ccaSISOpenLoop, "SIS open loop mode"),
		f32("SIS_MAGNET_VOLTAGE", ccaSISMagnetVoltage, "SIS magnet voltage", "V"),
		f32("SIS_MAGNET_CURRENT", ccaSISMagnetCurrent, "SIS magnet current", "mA"),
		flag("LNA_ENABLE", ccaLNAEnable, "LNA bias enabled"),
		f32("LNA_DRAIN_VOLTAGE", ccaLNADrainVoltage, "LNA stage drain voltage", "V"),
		f32("LNA_DRAIN_CURRENT", ccaLNADrainCurrent, "LNA stage drain current", "mA"),
		f32("LNA_GATE_VOLTAGE", ccaLNAGateVoltage, "LNA stage gate voltage", "V"),
		flag("LNA_LED_ENABLE", ccaLNALEDEnable, "LNA LED enabled"),
		f32("SIS_HEATER_CURRENT", ccaSISHeaterCurrent, "SIS heater current", "mA"),

		// Set-value readbacks: monitors on the command registers.
		f32("SIS_VOLTAGE_SET", ccaCmdOffset+ccaSISVoltage, "commanded SIS junction voltage", "mV"),
		f32("SIS_MAGNET_CURRENT_SET", ccaCmdOffset+ccaSISMagnetCurrent, "commanded SIS magnet current", "mA"),

		setF32("SET_SIS_VOLTAGE", ccaSISVoltage),
		setF32("SET_SIS_MAGNET_CURRENT", ccaSISMagnetCurrent),
		setFlag("SET_SIS_OPEN_LOOP", ccaSISOpenLoop),
		setFlag("SET_SIS_HEATER_ENABLE", ccaSISHeaterEnable),
		setFlag("SET_LNA_ENABLE", ccaLNAEnable),
		setF32("SET_LNA_DRAIN_VOLTAGE", ccaLNADrainVoltage),
		setF32("SET_LNA_DRAIN_CURRENT", ccaLNADrainCurrent),
		setFlag("SET_LNA_LED_ENABLE", ccaLNALEDEnable),
	}}
}

// ColdCartridge drives the cold cartridge bias module of one receiver
// band: SIS mixer bias, magnets, LNAs, heater and temperature sensors.
type ColdCartridge struct {
	Module
	band int
	port int
}

// NewColdCartridge binds the cold cartridge personality for band. A
// zero port means the band sits on its matching port.
func NewColdCartridge(conn bus.Connection, node wire.NodeID, band, port int) (*ColdCartridge, error) {
	if err := checkBand(band); err != nil {
		return nil, err
	}
	if port == 0 {
		port = band
	}
	f, err := New(conn, node, GenericLayer(), ModuleLayer(), ColdCartridgeLayer(port))
	if err != nil {
		return nil, err
	}
	return &ColdCartridge{Module: Module{Generic: Generic{Facade: f}}, band: band, port: port}, nil
}

// Band returns the receiver band this cartridge serves.
func (c *ColdCartridge) Band() int { return c.band }

// Port returns the FEMC port the cartridge is connected to.
func (c *ColdCartridge) Port() int { return c.port }

// clampPolAndDevice coerces pol and device into the ranges the band
// supports, like the bias module firmware does.
func (c *ColdCartridge) clampPolAndDevice(pol, device int) (int, int) {
	if pol < 0 {
		pol = 0
	} else if pol > 1 {
		pol = 1
	}
	if device < 1 {
		device = 1
	} else if device > 2 {
		device = 2
	}
	if !HasSIS2(c.band) {
		device = 1
	}
	return pol, device
}

// subsysOffset returns the RCA offset selecting one polarization and
// device.
func (c *ColdCartridge) subsysOffset(pol, device int) wire.RCA {
	pol, device = c.clampPolAndDevice(pol, device)
	return wire.RCA(pol)*ccaPol1Offset + wire.RCA(device-1)*ccaDevice2Offset
}

// CartridgeTemps reads the six cartridge temperature sensors.
func (c *ColdCartridge) CartridgeTemps(ctx context.Context) ([6]float32, error) {
	var temps [6]float32
	seq := make(bus.Sequence, 0, len(temps))
	for i := range temps {
		t, err := c.MonitorTransaction("CARTRIDGE_TEMP", wire.RCA(i)*ccaTempSensorOffset)
		if err != nil {
			return temps, err
		}
		seq = append(seq, t)
	}
	for i, res := range c.Run(ctx, seq) {
		if res.Err != nil {
			return temps, res.Err
		}
		temps[i] = res.Value.(float32)
	}
	return temps, nil
}

// SISBias is one SIS mixer's measured operating point.
type SISBias struct {
	Vj        float32 // junction voltage, mV
	Ij        float32 // junction current, mA
	Vmag      float32 // magnet voltage, V
	Imag      float32 // magnet current, mA
	Averaging int
}

// SIS reads the bias monitor data for one mixer, averaging the junction
// voltage and current over the given number of samples.
func (c *ColdCartridge) SIS(ctx context.Context, pol, sis, averaging int) (SISBias, error) {
	if !HasSIS(c.band) {
		return SISBias{}, fmt.Errorf("%w: band %d", ErrNoSIS, c.band)
	}
	if averaging < 1 {
		averaging = 1
	}
	off := c.subsysOffset(pol, sis)

	var sumVj, sumIj float32
	for i := 0; i < averaging; i++ {
		vj, err := monitorValue[float32](ctx, c.Facade, "SIS_VOLTAGE", off)
		if err != nil {
			return SISBias{}, err
		}
		ij, err := monitorValue[float32](ctx, c.Facade, "SIS_CURRENT", off)
		if err != nil {
			return SISBias{}, err
		}
		sumVj += vj
		sumIj += ij
	}
	vmag, err := monitorValue[float32](ctx, c.Facade, "SIS_MAGNET_VOLTAGE", off)
	if err != nil {
		return SISBias{}, err
	}
	imag, err := monitorValue[float32](ctx, c.Facade, "SIS_MAGNET_CURRENT", off)
	if err != nil {
		return SISBias{}, err
	}
	return SISBias{
		Vj:        sumVj / float32(averaging),
		Ij:        sumIj / float32(averaging),
		Vmag:      vmag,
		Imag:      imag,
		Averaging: averaging,
	}, nil
}

// SISSettings reads back the commanded junction voltage and magnet
// current for one mixer.
func (c *ColdCartridge) SISSettings(ctx context.Context, pol, sis int) (vj, imag float32, err error) {
	if !HasSIS(c.band) {
		return 0, 0, fmt.Errorf("%w: band %d", ErrNoSIS, c.band)
	}
	off := c.subsysOffset(pol, sis)
	vj, err = monitorValue[float32](ctx, c.Facade, "SIS_VOLTAGE_SET", off)
	if err != nil {
		return 0, 0, err
	}
	imag, err = monitorValue[float32](ctx, c.Facade, "SIS_MAGNET_CURRENT_SET", off)
	return vj, imag, err
}

// SetSISVoltage commands the junction voltage for one mixer, in mV.
func (c *ColdCartridge) SetSISVoltage(ctx context.Context, pol, sis int, mV float64) error {
	if !HasSIS(c.band) {
		return fmt.Errorf("%w: band %d", ErrNoSIS, c.band)
	}
	return c.ControlAt(ctx, "SET_SIS_VOLTAGE", c.subsysOffset(pol, sis), mV)
}

// SetSISMagnetCurrent commands the magnet current for one mixer, in mA.
func (c *ColdCartridge) SetSISMagnetCurrent(ctx context.Context, pol, sis int, mA float64) error {
	if !HasSIS(c.band) {
		return fmt.Errorf("%w: band %d", ErrNoSIS, c.band)
	}
	return c.ControlAt(ctx, "SET_SIS_MAGNET_CURRENT", c.subsysOffset(pol, sis), mA)
}

// SetSISOpenLoop sets or clears the SIS open loop control bit.
func (c *ColdCartridge) SetSISOpenLoop(ctx context.Context, openLoop bool) error {
	return c.Control(ctx, "SET_SIS_OPEN_LOOP", openLoop)
}

// SISOpenLoop reads the SIS open loop configuration.
func (c *ColdCartridge) SISOpenLoop(ctx context.Context) (bool, error) {
	return monitorValue[bool](ctx, c.Facade, "SIS_OPEN_LOOP", 0)
}

// SetSISHeater enables or disables the SIS heater.
func (c *ColdCartridge) SetSISHeater(ctx context.Context, enable bool) error {
	return c.Control(ctx, "SET_SIS_HEATER_ENABLE", enable)
}

// SISHeaterCurrent reads the SIS heater current in mA.
func (c *ColdCartridge) SISHeaterCurrent(ctx context.Context) (float32, error) {
	return monitorValue[float32](ctx, c.Facade, "SIS_HEATER_CURRENT", 0)
}

// LNAStage is one amplifier stage's bias readings.
type LNAStage struct {
	DrainVoltage float32
	DrainCurrent float32
	GateVoltage  float32
}

// LNABias is one LNA's enable state and per-stage readings. Bands 1 and
// 2 report six stages, mapping the second device's stages to 4..6.
type LNABias struct {
	Enabled bool
	Stages  []LNAStage
}

// LNA reads the bias monitor data for one amplifier.
func (c *ColdCartridge) LNA(ctx context.Context, pol, lna int) (LNABias, error) {
	off := c.subsysOffset(pol, lna)
	enabled, err := monitorValue[bool](ctx, c.Facade, "LNA_ENABLE", off)
	if err != nil {
		return LNABias{}, err
	}

	offsets := []wire.RCA{off, off + ccaLNAStageOffset, off + 2*ccaLNAStageOffset}
	if c.band == 1 || c.band == 2 {
		for stage := 0; stage < 3; stage++ {
			offsets = append(offsets, off+ccaDevice2Offset+wire.RCA(stage)*ccaLNAStageOffset)
		}
	}

	bias := LNABias{Enabled: enabled, Stages: make([]LNAStage, 0, len(offsets))}
	for _, so := range offsets {
		vd, err := monitorValue[float32](ctx, c.Facade, "LNA_DRAIN_VOLTAGE", so)
		if err != nil {
			return bias, err
		}
		id, err := monitorValue[float32](ctx, c.Facade, "LNA_DRAIN_CURRENT", so)
		if err != nil {
			return bias, err
		}
		vg, err := monitorValue[float32](ctx, c.Facade, "LNA_GATE_VOLTAGE", so)
		if err != nil {
			return bias, err
		}
		bias.Stages = append(bias.Stages, LNAStage{DrainVoltage: vd, DrainCurrent: id, GateVoltage: vg})
	}
	return bias, nil
}

// SetLNAEnable enables or disables LNA bias. A negative pol or lna
// selects both.
func (c *ColdCartridge) SetLNAEnable(ctx context.Context, pol, lna int, enable bool) error {
	pols := []int{pol}
	if pol < 0 {
		pols = []int{0, 1}
	}
	lnas := []int{lna}
	if lna < 0 {
		lnas = []int{1, 2}
	}
	for _, p := range pols {
		for _, l := range lnas {
			if err := c.ControlAt(ctx, "SET_LNA_ENABLE", c.subsysOffset(p, l), enable); err != nil {
				return err
			}
		}
	}
	return nil
}

// lnaStageOffset maps a 1-based stage to its RCA offset. Stages 4..6
// exist only on bands 1 and 2, as stages 1..3 of the second device.
func (c *ColdCartridge) lnaStageOffset(pol, lna, stage int) (wire.RCA, error) {
	if stage < 1 || stage > 6 {
		return 0, fmt.Errorf("device: LNA stage %d out of range 1..6", stage)
	}
	if stage > 3 && c.band != 1 && c.band != 2 {
		return 0, fmt.Errorf("device: band %d has no LNA stage %d", c.band, stage)
	}
	off := c.subsysOffset(pol, lna)
	if stage > 3 {
		off += ccaDevice2Offset
		stage -= 3
	}
	return off + wire.RCA(stage-1)*ccaLNAStageOffset, nil
}

// SetLNADrainVoltage commands one stage's drain voltage.
func (c *ColdCartridge) SetLNADrainVoltage(ctx context.Context, pol, lna, stage int, v float64) error {
	off, err := c.lnaStageOffset(pol, lna, stage)
	if err != nil {
		return err
	}
	return c.ControlAt(ctx, "SET_LNA_DRAIN_VOLTAGE", off, v)
}

// SetLNADrainCurrent commands one stage's drain current in mA.
func (c *ColdCartridge) SetLNADrainCurrent(ctx context.Context, pol, lna, stage int, mA float64) error {
	off, err := c.lnaStageOffset(pol, lna, stage)
	if err != nil {
		return err
	}
	return c.ControlAt(ctx, "SET_LNA_DRAIN_CURRENT", off, mA)
}

// SetLNALED switches one polarization's LNA LED.
func (c *ColdCartridge) SetLNALED(ctx context.Context, pol int, enable bool) error {
	pol, _ = c.clampPolAndDevice(pol, 1)
	return c.ControlAt(ctx, "SET_LNA_LED_ENABLE", wire.RCA(pol)*ccaPol1Offset, enable)
}

// LNALED reads one polarization's LNA LED state.
func (c *ColdCartridge) LNALED(ctx context.Context, pol int) (bool, error) {
	pol, _ = c.clampPolAndDevice(pol, 1)
	return monitorValue[bool](ctx, c.Facade, "LNA_LED_ENABLE", wire.RCA(pol)*ccaPol1Offset)
}

// IVCurve is the result of an I-V sweep: parallel slices of the
// commanded junction voltage and the measured voltage and current at
// each step, ordered by increasing commanded voltage.
type IVCurve struct {
	VjSet  []float32
	VjRead []float32
	IjRead []float32
}

const (
	ivCurvePoints = 401
	ivCurveSettle = 10 * time.Millisecond
)

// ivCurveDefaults returns the default sweep endpoints and step for a
// band, spanning the full junction voltage range in ivCurvePoints steps.
func ivCurveDefaults(band int) (low, high, step float64, ok bool) {
	var vjMax float64
	switch band {
	case 4:
		vjMax = 6.5
	case 3, 6:
		vjMax = 12.0
	case 5, 7, 8, 9, 10:
		vjMax = 3.0
	default:
		return 0, 0, 0, false
	}
	return -vjMax, vjMax, 2 * vjMax / (ivCurvePoints - 1), true
}

// MeasureIVCurve sweeps the junction voltage of one mixer and records
// the measured voltage and current at each step. Zero endpoints and
// step select the band defaults. Each half of a zero-crossing sweep
// runs from its extreme toward zero to avoid hysteresis; the commanded
// voltage from before the sweep is restored afterwards.
func (c *ColdCartridge) MeasureIVCurve(ctx context.Context, pol, sis int, vjLow, vjHigh, vjStep float64) (*IVCurve, error) {
	if !HasSIS(c.band) {
		return nil, fmt.Errorf("%w: band %d", ErrNoSIS, c.band)
	}
	if sis == 2 && !HasSIS2(c.band) {
		return nil, fmt.Errorf("%w: band %d has no second SIS", ErrNoSIS, c.band)
	}

	dl, dh, ds, ok := ivCurveDefaults(c.band)
	if vjLow == 0 && vjHigh == 0 {
		if !ok {
			return nil, fmt.Errorf("device: no I-V sweep defaults for band %d", c.band)
		}
		vjLow, vjHigh = dl, dh
	}
	if vjStep == 0 {
		if !ok {
			return nil, fmt.Errorf("device: no I-V sweep defaults for band %d", c.band)
		}
		vjStep = ds
	}
	if vjHigh < vjLow {
		vjLow, vjHigh = vjHigh, vjLow
	}
	vjStep = math.Abs(vjStep)
	if span := vjHigh - vjLow; span == 0 {
		return nil, fmt.Errorf("device: empty I-V sweep range %g..%g", vjLow, vjHigh)
	} else if span < vjStep {
		return nil, fmt.Errorf("device: I-V sweep range %g..%g smaller than one step %g", vjLow, vjHigh, vjStep)
	}

	off := c.subsysOffset(pol, sis)
	priorVj, _, err := c.SISSettings(ctx, pol, sis)
	if err != nil {
		return nil, err
	}

	negative := vjLow < 0
	positive := vjHigh > 0
	zeroCrossing := negative && positive

	curve := &IVCurve{}
	if negative {
		end := vjHigh
		if zeroCrossing {
			end = 0
		}
		if err := c.sweepHalf(ctx, curve, off, vjLow, end, vjStep, false); err != nil {
			return nil, err
		}
	}
	if positive {
		end := vjLow
		if zeroCrossing {
			end = 0
		}
		if err := c.sweepHalf(ctx, curve, off, vjHigh, end, -vjStep, true); err != nil {
			return nil, err
		}
	}

	if err := c.ControlAt(ctx, "SET_SIS_VOLTAGE", off, float64(priorVj)); err != nil {
		return nil, err
	}
	return curve, nil
}

// sweepHalf runs one monotonic half of the sweep as a single sequence
// of set/read/read triplets and appends the points to the curve. A
// reversed half is appended back to front so VjSet stays increasing.
func (c *ColdCartridge) sweepHalf(ctx context.Context, curve *IVCurve, off wire.RCA, from, to, step float64, reversed bool) error {
	// Slew to the first point and let the bias settle.
	if err := c.ControlAt(ctx, "SET_SIS_VOLTAGE", off, from); err != nil {
		return err
	}
	if err := sleepCtx(ctx, ivCurveSettle); err != nil {
		return err
	}

	readVj, err := c.MonitorTransaction("SIS_VOLTAGE", off)
	if err != nil {
		return err
	}
	readIj, err := c.MonitorTransaction("SIS_CURRENT", off)
	if err != nil {
		return err
	}

	var setpoints []float64
	var seq bus.Sequence
	for v := from; ; v += step {
		set, err := c.ControlTransaction("SET_SIS_VOLTAGE", off, v)
		if err != nil {
			return err
		}
		seq = append(seq, set, readVj, readIj)
		setpoints = append(setpoints, v)
		if step < 0 {
			if v+step <= to {
				break
			}
		} else if v+step >= to {
			break
		}
	}

	results := c.Run(ctx, seq)
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}

	indexes := make([]int, len(setpoints))
	for i := range indexes {
		indexes[i] = i
	}
	if reversed {
		for i, j := 0, len(indexes)-1; i < j; i, j = i+1, j-1 {
			indexes[i], indexes[j] = indexes[j], indexes[i]
		}
	}
	for _, i := range indexes {
		curve.VjSet = append(curve.VjSet, float32(setpoints[i]))
		curve.VjRead = append(curve.VjRead, results[i*3+1].Value.(float32))
		curve.IjRead = append(curve.IjRead, results[i*3+2].Value.(float32))
	}
	return nil
}
