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

// Local oscillator RCAs, relative to the port window. Controls live at
// the monitor RCA plus the command offset.
const (
	loCmdOffset  wire.RCA = 0x10000
	loPol1Offset wire.RCA = 0x0004

	loYTOCoarseTune wire.RCA = 0x0800

	loPhotomixerEnable  wire.RCA = 0x0810
	loPhotomixerVoltage wire.RCA = 0x0814
	loPhotomixerCurrent wire.RCA = 0x0818

	loPLLLockDetectVoltage wire.RCA = 0x0820
	loPLLCorrectionVoltage wire.RCA = 0x0821
	loPLLAssemblyTemp      wire.RCA = 0x0822
	loPLLYTOHeaterCurrent  wire.RCA = 0x0823
	loPLLRefTotalPower     wire.RCA = 0x0824
	loPLLIFTotalPower      wire.RCA = 0x0825
	loPLLUnlockLatch       wire.RCA = 0x0827
	loPLLClearUnlockLatch  wire.RCA = 0x0828
	loPLLLoopBWSelect      wire.RCA = 0x0829
	loPLLLockSBSelect      wire.RCA = 0x082A
	loPLLNullIntegrator    wire.RCA = 0x082B

	loAMCGateAVoltage  wire.RCA = 0x0830
	loAMCDrainAVoltage wire.RCA = 0x0831
	loAMCDrainACurrent wire.RCA = 0x0832
	loAMCGateBVoltage  wire.RCA = 0x0833
	loAMCDrainBVoltage wire.RCA = 0x0834
	loAMCDrainBCurrent wire.RCA = 0x0835
	loAMCMultDCounts   wire.RCA = 0x0836
	loAMCGateEVoltage  wire.RCA = 0x0837
	loAMCDrainEVoltage wire.RCA = 0x0838
	loAMCDrainECurrent wire.RCA = 0x0839
	loAMCMultDCurrent  wire.RCA = 0x083A
	loAMCSupply5V      wire.RCA = 0x083B

	loPAGateVoltage       wire.RCA = 0x0840
	loPADrainVoltage      wire.RCA = 0x0841
	loPADrainCurrent      wire.RCA = 0x0842
	loPASupply3V          wire.RCA = 0x0848
	loPASupply5V          wire.RCA = 0x084C
	loPAHasTeledyneChip   wire.RCA = 0x0850
	loPATeledyneCollector wire.RCA = 0x0851
)

// Loop bandwidth selections.
const (
	LoopBWDefault = -1 // use the band's default
	LoopBWNormal  = 0  // 7.5 MHz/V
	LoopBWAlt     = 1  // 15 MHz/V
)

// Lock sideband selections.
const (
	LockBelowRef = 0
	LockAboveRef = 1
)

// ErrNoLock reports a failed PLL lock search.
var ErrNoLock = errors.New("device: PLL failed to lock")

// LO multiplication factors per band. The LO frequency is the YTO
// frequency times the warm times the cold multiplier.
var warmMultipliers = map[int]int{
	1: 1, 2: 4, 3: 6, 4: 3, 5: 6, 6: 6, 7: 6, 8: 3, 9: 3, 10: 6,
}

var coldMultipliers = map[int]int{
	1: 1, 2: 1, 3: 1, 4: 2, 5: 2, 6: 3, 7: 3, 8: 6, 9: 9, 10: 9,
}

var defaultLoopBW = map[int]int{
	1: 0, 2: 0, 3: 1, 4: 0, 5: 1, 6: 1, 7: 1, 8: 0, 9: 0, 10: 1,
}

// WarmMultiplier returns a band's warm multiplication factor.
func WarmMultiplier(band int) int { return warmMultipliers[band] }

// ColdMultiplier returns a band's cold multiplication factor.
func ColdMultiplier(band int) int { return coldMultipliers[band] }

// LocalOscillatorLayer describes the warm cartridge assembly behind the
// given FEMC port: YTO tuning, photomixer, PLL, multiplier chain and
// power amplifier.
func LocalOscillatorLayer(port int) registry.Layer {
	base := PortOffset(port)
	f32 := func(name string, rca wire.RCA, label, units string) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + rca, Dir: wire.Monitor,
			ReplyLength: 4, Decode: wire.DecodeFloat32, Label: label, Units: units}
	}
	flag := func(name string, rca wire.RCA, label string) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + rca, Dir: wire.Monitor,
			ReplyLength: 1, Decode: wire.DecodeBool, Label: label}
	}
	u8 := func(name string, rca wire.RCA, label string) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + rca, Dir: wire.Monitor,
			ReplyLength: 1, Decode: wire.DecodeU8, Label: label}
	}
	ctl := func(name string, rca wire.RCA, enc registry.EncodeFunc) registry.Descriptor {
		return registry.Descriptor{Name: name, RCA: base + loCmdOffset + rca, Dir: wire.Control, Encode: enc}
	}
	return registry.Layer{Name: fmt.Sprintf("lo-port%d", port), Descriptors: []registry.Descriptor{
		{Name: "YTO_COARSE_TUNE", RCA: base + loYTOCoarseTune, Dir: wire.Monitor,
			ReplyLength: 2, Decode: wire.DecodeU16, Label: "YTO coarse tune", Units: "counts"},
		flag("PHOTOMIXER_ENABLE", loPhotomixerEnable, "photomixer enabled"),
		f32("PHOTOMIXER_VOLTAGE", loPhotomixerVoltage, "photomixer voltage", "V"),
		f32("PHOTOMIXER_CURRENT", loPhotomixerCurrent, "photomixer current", "mA"),
		f32("PLL_LOCK_DETECT_VOLTAGE", loPLLLockDetectVoltage, "PLL lock detect voltage", "V"),
		f32("PLL_CORRECTION_VOLTAGE", loPLLCorrectionVoltage, "PLL correction voltage", "V"),
		f32("PLL_ASSEMBLY_TEMP", loPLLAssemblyTemp, "PLL assembly temperature", "C"),
		f32("PLL_YTO_HEATER_CURRENT", loPLLYTOHeaterCurrent, "YTO heater current", "mA"),
		f32("PLL_REF_TOTAL_POWER", loPLLRefTotalPower, "reference total power detector", "V"),
		f32("PLL_IF_TOTAL_POWER", loPLLIFTotalPower, "IF total power detector", "V"),
		flag("PLL_UNLOCK_LATCH", loPLLUnlockLatch, "unlock detected since last clear"),
		u8("PLL_LOOP_BW_SELECT", loPLLLoopBWSelect, "loop bandwidth selection"),
		u8("PLL_LOCK_SB_SELECT", loPLLLockSBSelect, "lock sideband selection"),
		flag("PLL_NULL_INTEGRATOR", loPLLNullIntegrator, "loop integrator nulled"),
		f32("AMC_GATE_A_VOLTAGE", loAMCGateAVoltage, "AMC stage A gate voltage", "V"),
		f32("AMC_DRAIN_A_VOLTAGE", loAMCDrainAVoltage, "AMC stage A drain voltage", "V"),
		f32("AMC_DRAIN_A_CURRENT", loAMCDrainACurrent, "AMC stage A drain current", "mA"),
		f32("AMC_GATE_B_VOLTAGE", loAMCGateBVoltage, "AMC stage B gate voltage", "V"),
		f32("AMC_DRAIN_B_VOLTAGE", loAMCDrainBVoltage, "AMC stage B drain voltage", "V"),
		f32("AMC_DRAIN_B_CURRENT", loAMCDrainBCurrent, "AMC stage B drain current", "mA"),
		u8("AMC_MULT_D_COUNTS", loAMCMultDCounts, "multiplier D setting"),
		f32("AMC_GATE_E_VOLTAGE", loAMCGateEVoltage, "AMC stage E gate voltage", "V"),
		f32("AMC_DRAIN_E_VOLTAGE", loAMCDrainEVoltage, "AMC stage E drain voltage", "V"),
		f32("AMC_DRAIN_E_CURRENT", loAMCDrainECurrent, "AMC stage E drain current", "mA"),
		f32("AMC_MULT_D_CURRENT", loAMCMultDCurrent, "multiplier D current", "mA"),
		f32("AMC_SUPPLY_5V", loAMCSupply5V, "AMC 5V supply", "V"),
		f32("PA_GATE_VOLTAGE", loPAGateVoltage, "PA gate voltage", "V"),
		f32("PA_DRAIN_VOLTAGE", loPADrainVoltage, "PA drain voltage", "V"),
		f32("PA_DRAIN_CURRENT", loPADrainCurrent, "PA drain current", "mA"),
		f32("PA_SUPPLY_3V", loPASupply3V, "PA 3V supply", "V"),
		f32("PA_SUPPLY_5V", loPASupply5V, "PA 5V supply", "V"),
		flag("PA_HAS_TELEDYNE", loPAHasTeledyneChip, "Teledyne PA chips configured"),
		u8("PA_TELEDYNE_COLLECTOR", loPATeledyneCollector, "Teledyne collector pot setting"),

		ctl("SET_YTO_COARSE_TUNE", loYTOCoarseTune, registry.EncodeU16),
		ctl("SET_PHOTOMIXER_ENABLE", loPhotomixerEnable, registry.EncodeBool),
		ctl("CLEAR_UNLOCK_LATCH", loPLLClearUnlockLatch, registry.EncodeBool),
		ctl("SET_LOOP_BW", loPLLLoopBWSelect, registry.EncodeU8),
		ctl("SET_LOCK_SB", loPLLLockSBSelect, registry.EncodeU8),
		ctl("SET_NULL_INTEGRATOR", loPLLNullIntegrator, registry.EncodeBool),
		ctl("SET_PA_GATE_VOLTAGE", loPAGateVoltage, registry.EncodeFloat32),
		ctl("SET_PA_DRAIN_VOLTAGE", loPADrainVoltage, registry.EncodeFloat32),
		ctl("SET_PA_HAS_TELEDYNE", loPAHasTeledyneChip, registry.EncodeBool),
		ctl("SET_PA_TELEDYNE_COLLECTOR", loPATeledyneCollector, registry.EncodeU8),
	}}
}

// LocalOscillator drives the warm cartridge assembly of one band. YTO
// frequency limits come from the assembly's tuning data and must be set
// before frequency-based tuning.
type LocalOscillator struct {
	Module
	band       int
	port       int
	ytoLowGHz  float64
	ytoHighGHz float64
}

// NewLocalOscillator binds the local oscillator personality for band. A
// zero port means the band sits on its matching port.
func NewLocalOscillator(conn bus.Connection, node wire.NodeID, band, port int) (*LocalOscillator, error) {
	if err := checkBand(band); err != nil {
		return nil, err
	}
	if port == 0 {
		port = band
	}
	f, err := New(conn, node, GenericLayer(), ModuleLayer(), LocalOscillatorLayer(port))
	if err != nil {
		return nil, err
	}
	return &LocalOscillator{Module: Module{Generic: Generic{Facade: f}}, band: band, port: port}, nil
}

// Band returns the receiver band this oscillator serves.
func (lo *LocalOscillator) Band() int { return lo.band }

// SetYTOLimits sets the oscillator's YTO tuning range in GHz.
func (lo *LocalOscillator) SetYTOLimits(lowGHz, highGHz float64) {
	lo.ytoLowGHz = lowGHz
	lo.ytoHighGHz = highGHz
}

// Tuning is the result of a frequency command.
type Tuning struct {
	WCAFreqGHz float64 // frequency at the assembly output
	YTOFreqGHz float64 // YTO oscillator frequency
	CoarseTune int     // commanded YTO counts, 0..4095
}

// SetLOFrequency tunes the YTO so the receiver's LO lands on freqGHz,
// dividing out the band's cold and warm multipliers.
func (lo *LocalOscillator) SetLOFrequency(ctx context.Context, freqGHz float64) (Tuning, error) {
	if freqGHz <= 0 {
		return Tuning{}, fmt.Errorf("device: LO frequency %g out of range", freqGHz)
	}
	wcaFreq := freqGHz / float64(coldMultipliers[lo.band])
	ytoFreq := wcaFreq / float64(warmMultipliers[lo.band])
	counts, err := lo.ytoFreqToCounts(ytoFreq)
	if err != nil {
		return Tuning{}, err
	}
	if err := lo.SetYTOCoarseTune(ctx, counts); err != nil {
		return Tuning{}, err
	}
	return Tuning{WCAFreqGHz: wcaFreq, YTOFreqGHz: ytoFreq, CoarseTune: counts}, nil
}

func (lo *LocalOscillator) ytoFreqToCounts(ytoFreq float64) (int, error) {
	if lo.ytoHighGHz <= lo.ytoLowGHz {
		return 0, errors.New("device: YTO limits not set")
	}
	if ytoFreq < lo.ytoLowGHz {
		ytoFreq = lo.ytoLowGHz
	} else if ytoFreq > lo.ytoHighGHz {
		ytoFreq = lo.ytoHighGHz
	}
	return int((ytoFreq - lo.ytoLowGHz) / (lo.ytoHighGHz - lo.ytoLowGHz) * 4095), nil
}

// SetYTOCoarseTune commands the YTO coarse tune, clamped to 0..4095.
func (lo *LocalOscillator) SetYTOCoarseTune(ctx context.Context, counts int) error {
	if counts < 0 {
		counts = 0
	} else if counts > 4095 {
		counts = 4095
	}
	return lo.Control(ctx, "SET_YTO_COARSE_TUNE", counts)
}

// YTOCoarseTune reads the current YTO coarse tune counts.
func (lo *LocalOscillator) YTOCoarseTune(ctx context.Context) (uint16, error) {
	return monitorValue[uint16](ctx, lo.Facade, "YTO_COARSE_TUNE", 0)
}

// LockInfo is the PLL lock state.
type LockInfo struct {
	LockDetect        bool    // raw lock detect voltage at or above 3.0 V
	UnlockLatched     bool    // unlock seen since the latch was last cleared
	RefTotalPower     float32 // reference total power detector, V
	IFTotalPower      float32 // IF total power detector, V
	CorrectionVoltage float32 // loop correction voltage, V
	Locked            bool
}

// LockInfo reads the PLL lock state in one sequence. The PLL counts as
// locked when the lock detect voltage is at least 3.0 V and both total
// power detectors read at least 0.5 V in magnitude.
func (lo *LocalOscillator) LockInfo(ctx context.Context) (LockInfo, error) {
	names := []string{
		"PLL_LOCK_DETECT_VOLTAGE", "PLL_UNLOCK_LATCH",
		"PLL_REF_TOTAL_POWER", "PLL_IF_TOTAL_POWER", "PLL_CORRECTION_VOLTAGE",
	}
	seq := make(bus.Sequence, 0, len(names))
	for _, name := range names {
		t, err := lo.MonitorTransaction(name, 0)
		if err != nil {
			return LockInfo{}, err
		}
		seq = append(seq, t)
	}
	results := lo.Run(ctx, seq)
	for _, res := range results {
		if res.Err != nil {
			return LockInfo{}, res.Err
		}
	}
	info := LockInfo{
		LockDetect:        results[0].Value.(float32) >= 3.0,
		UnlockLatched:     results[1].Value.(bool),
		RefTotalPower:     results[2].Value.(float32),
		IFTotalPower:      results[3].Value.(float32),
		CorrectionVoltage: results[4].Value.(float32),
	}
	info.Locked = info.LockDetect &&
		math.Abs(float64(info.RefTotalPower)) >= 0.5 &&
		math.Abs(float64(info.IFTotalPower)) >= 0.5
	return info, nil
}

// PLLInfo extends the lock state with tuning and assembly readings.
type PLLInfo struct {
	LockInfo
	CoarseTune     uint16
	Temperature    float32
	NullIntegrator bool
}

// PLL reads the full PLL monitor set.
func (lo *LocalOscillator) PLL(ctx context.Context) (PLLInfo, error) {
	info, err := lo.LockInfo(ctx)
	if err != nil {
		return PLLInfo{}, err
	}
	tune, err := lo.YTOCoarseTune(ctx)
	if err != nil {
		return PLLInfo{}, err
	}
	temp, err := monitorValue[float32](ctx, lo.Facade, "PLL_ASSEMBLY_TEMP", 0)
	if err != nil {
		return PLLInfo{}, err
	}
	nulled, err := monitorValue[bool](ctx, lo.Facade, "PLL_NULL_INTEGRATOR", 0)
	if err != nil {
		return PLLInfo{}, err
	}
	return PLLInfo{LockInfo: info, CoarseTune: tune, Temperature: temp, NullIntegrator: nulled}, nil
}

// PLLConfig is the PLL's static configuration.
type PLLConfig struct {
	LockSideband   uint8 // 0 below reference, 1 above
	LoopBandwidth  uint8 // 0 normal, 1 alternate
	WarmMultiplier int
	ColdMultiplier int
}

// PLLConfig reads the PLL configuration.
func (lo *LocalOscillator) PLLConfig(ctx context.Context) (PLLConfig, error) {
	sb, err := monitorValue[uint8](ctx, lo.Facade, "PLL_LOCK_SB_SELECT", 0)
	if err != nil {
		return PLLConfig{}, err
	}
	bw, err := monitorValue[uint8](ctx, lo.Facade, "PLL_LOOP_BW_SELECT", 0)
	if err != nil {
		return PLLConfig{}, err
	}
	return PLLConfig{
		LockSideband:   sb,
		LoopBandwidth:  bw,
		WarmMultiplier: warmMultipliers[lo.band],
		ColdMultiplier: coldMultipliers[lo.band],
	}, nil
}

// Photomixer is the photomixer monitor set.
type Photomixer struct {
	Enabled bool
	Voltage float32
	Current float32 // mA
}

// Photomixer reads the photomixer monitor set.
func (lo *LocalOscillator) Photomixer(ctx context.Context) (Photomixer, error) {
	enabled, err := monitorValue[bool](ctx, lo.Facade, "PHOTOMIXER_ENABLE", 0)
	if err != nil {
		return Photomixer{}, err
	}
	v, err := monitorValue[float32](ctx, lo.Facade, "PHOTOMIXER_VOLTAGE", 0)
	if err != nil {
		return Photomixer{}, err
	}
	i, err := monitorValue[float32](ctx, lo.Facade, "PHOTOMIXER_CURRENT", 0)
	if err != nil {
		return Photomixer{}, err
	}
	return Photomixer{Enabled: enabled, Voltage: v, Current: i}, nil
}

// SetPhotomixerEnable switches the photomixer.
func (lo *LocalOscillator) SetPhotomixerEnable(ctx context.Context, enable bool) error {
	return lo.Control(ctx, "SET_PHOTOMIXER_ENABLE", enable)
}

// ClearUnlockDetect clears the latching unlock detect bit.
func (lo *LocalOscillator) ClearUnlockDetect(ctx context.Context) error {
	return lo.Control(ctx, "CLEAR_UNLOCK_LATCH", true)
}

// SetNullLoopIntegrator nulls or restores the PLL loop integrator.
func (lo *LocalOscillator) SetNullLoopIntegrator(ctx context.Context, null bool) error {
	return lo.Control(ctx, "SET_NULL_INTEGRATOR", null)
}

// SelectLoopBandwidth selects the PLL loop bandwidth. LoopBWDefault
// picks the band's standard setting.
func (lo *LocalOscillator) SelectLoopBandwidth(ctx context.Context, selection int) error {
	switch selection {
	case LoopBWNormal, LoopBWAlt:
	case LoopBWDefault:
		selection = defaultLoopBW[lo.band]
	default:
		return fmt.Errorf("device: unsupported loop bandwidth selection %d", selection)
	}
	return lo.Control(ctx, "SET_LOOP_BW", selection)
}

// SelectLockSideband selects which side of the reference to lock on.
func (lo *LocalOscillator) SelectLockSideband(ctx context.Context, selection int) error {
	if selection != LockBelowRef && selection != LockAboveRef {
		return fmt.Errorf("device: unsupported lock sideband selection %d", selection)
	}
	return lo.Control(ctx, "SET_LOCK_SB", selection)
}

// PA bias limits from the power amplifier design equations.
const (
	paDrainMax = 2.5
	paGateMin  = -0.84
	paGateMax  = 0.15
)

// SetPADrain commands one polarization's PA drain control voltage,
// clamped to the supported range.
func (lo *LocalOscillator) SetPADrain(ctx context.Context, pol int, v float64) error {
	if pol < 0 || pol > 1 {
		return fmt.Errorf("device: pol %d out of range", pol)
	}
	if v < 0 {
		v = 0
	} else if v > paDrainMax {
		v = paDrainMax
	}
	return lo.ControlAt(ctx, "SET_PA_DRAIN_VOLTAGE", wire.RCA(pol)*loPol1Offset, v)
}

// SetPAGate commands one polarization's PA gate voltage, clamped to the
// supported range.
func (lo *LocalOscillator) SetPAGate(ctx context.Context, pol int, v float64) error {
	if pol < 0 || pol > 1 {
		return fmt.Errorf("device: pol %d out of range", pol)
	}
	if v < paGateMin {
		v = paGateMin
	} else if v > paGateMax {
		v = paGateMax
	}
	return lo.ControlAt(ctx, "SET_PA_GATE_VOLTAGE", wire.RCA(pol)*loPol1Offset, v)
}

// PABias is the power amplifier monitor set, indexed by polarization.
type PABias struct {
	GateVoltage  [2]float32
	DrainVoltage [2]float32
	DrainCurrent [2]float32 // mA
	Supply3V     float32
	Supply5V     float32
}

// PA reads the power amplifier monitor set in one sequence.
func (lo *LocalOscillator) PA(ctx context.Context) (PABias, error) {
	type point struct {
		name   string
		offset wire.RCA
	}
	points := []point{
		{"PA_GATE_VOLTAGE", 0}, {"PA_GATE_VOLTAGE", loPol1Offset},
		{"PA_DRAIN_VOLTAGE", 0}, {"PA_DRAIN_VOLTAGE", loPol1Offset},
		{"PA_DRAIN_CURRENT", 0}, {"PA_DRAIN_CURRENT", loPol1Offset},
		{"PA_SUPPLY_3V", 0}, {"PA_SUPPLY_5V", 0},
	}
	seq := make(bus.Sequence, 0, len(points))
	for _, p := range points {
		t, err := lo.MonitorTransaction(p.name, p.offset)
		if err != nil {
			return PABias{}, err
		}
		seq = append(seq, t)
	}
	results := lo.Run(ctx, seq)
	for _, res := range results {
		if res.Err != nil {
			return PABias{}, res.Err
		}
	}
	var pa PABias
	pa.GateVoltage[0] = results[0].Value.(float32)
	pa.GateVoltage[1] = results[1].Value.(float32)
	pa.DrainVoltage[0] = results[2].Value.(float32)
	pa.DrainVoltage[1] = results[3].Value.(float32)
	pa.DrainCurrent[0] = results[4].Value.(float32)
	pa.DrainCurrent[1] = results[5].Value.(float32)
	pa.Supply3V = results[6].Value.(float32)
	pa.Supply5V = results[7].Value.(float32)
	return pa, nil
}

// AMCBias is the active multiplier chain monitor set.
type AMCBias struct {
	GateAVoltage  float32
	DrainAVoltage float32
	DrainACurrent float32
	GateBVoltage  float32
	DrainBVoltage float32
	DrainBCurrent float32
	GateEVoltage  float32
	DrainEVoltage float32
	DrainECurrent float32
	MultDCounts   uint8
	MultDCurrent  float32
	Supply5V      float32
}

// AMC reads the active multiplier chain monitor set.
func (lo *LocalOscillator) AMC(ctx context.Context) (AMCBias, error) {
	var amc AMCBias
	reads := []struct {
		name string
		into *float32
	}{
		{"AMC_GATE_A_VOLTAGE", &amc.GateAVoltage},
		{"AMC_DRAIN_A_VOLTAGE", &amc.DrainAVoltage},
		{"AMC_DRAIN_A_CURRENT", &amc.DrainACurrent},
		{"AMC_GATE_B_VOLTAGE", &amc.GateBVoltage},
		{"AMC_DRAIN_B_VOLTAGE", &amc.DrainBVoltage},
		{"AMC_DRAIN_B_CURRENT", &amc.DrainBCurrent},
		{"AMC_GATE_E_VOLTAGE", &amc.GateEVoltage},
		{"AMC_DRAIN_E_VOLTAGE", &amc.DrainEVoltage},
		{"AMC_DRAIN_E_CURRENT", &amc.DrainECurrent},
		{"AMC_MULT_D_CURRENT", &amc.MultDCurrent},
		{"AMC_SUPPLY_5V", &amc.Supply5V},
	}
	for _, r := range reads {
		v, err := monitorValue[float32](ctx, lo.Facade, r.name, 0)
		if err != nil {
			return AMCBias{}, err
		}
		*r.into = v
	}
	counts, err := monitorValue[uint8](ctx, lo.Facade, "AMC_MULT_D_COUNTS", 0)
	if err != nil {
		return AMCBias{}, err
	}
	amc.MultDCounts = counts
	return amc, nil
}

// TeledynePA is the band 7 Teledyne power amplifier configuration.
type TeledynePA struct {
	Present     bool
	CollectorP0 uint8
	CollectorP1 uint8
}

// SetTeledynePA configures the band 7 Teledyne PA chips.
func (lo *LocalOscillator) SetTeledynePA(ctx context.Context, cfg TeledynePA) error {
	if lo.band != 7 {
		return fmt.Errorf("device: Teledyne PA config not supported for band %d", lo.band)
	}
	if err := lo.Control(ctx, "SET_PA_HAS_TELEDYNE", cfg.Present); err != nil {
		return err
	}
	if err := lo.Control(ctx, "SET_PA_TELEDYNE_COLLECTOR", cfg.CollectorP0); err != nil {
		return err
	}
	return lo.ControlAt(ctx, "SET_PA_TELEDYNE_COLLECTOR", loPol1Offset, cfg.CollectorP1)
}

// TeledynePA reads the Teledyne PA configuration.
func (lo *LocalOscillator) TeledynePA(ctx context.Context) (TeledynePA, error) {
	present, err := monitorValue[bool](ctx, lo.Facade, "PA_HAS_TELEDYNE", 0)
	if err != nil {
		return TeledynePA{}, err
	}
	p0, err := monitorValue[uint8](ctx, lo.Facade, "PA_TELEDYNE_COLLECTOR", 0)
	if err != nil {
		return TeledynePA{}, err
	}
	p1, err := monitorValue[uint8](ctx, lo.Facade, "PA_TELEDYNE_COLLECTOR", loPol1Offset)
	if err != nil {
		return TeledynePA{}, err
	}
	return TeledynePA{Present: present, CollectorP0: p0, CollectorP1: p1}, nil
}

// Lock search tuning.
const (
	lockSearchPoints   = 9
	lockSearchInterval = 5
	pllSettle          = 100 * time.Millisecond
)

// LockPLL tunes to freqGHz and searches for a locking YTO tuning around
// the first guess: it probes a window of coarse tune values, keeps the
// points where the PLL locked, and follows the correction voltage slope
// to the tuning where the correction crosses zero.
func (lo *LocalOscillator) LockPLL(ctx context.Context, freqGHz float64) (Tuning, error) {
	tuning, err := lo.SetLOFrequency(ctx, freqGHz)
	if err != nil {
		return Tuning{}, err
	}

	info, err := lo.LockInfo(ctx)
	if err != nil {
		return Tuning{}, err
	}
	if info.Locked {
		if _, err := lo.AdjustPLL(ctx, 0); err != nil {
			return Tuning{}, err
		}
		return tuning, nil
	}

	type probe struct {
		corrV  float64
		coarse int
	}
	var locked []probe
	for i := 0; i < lockSearchPoints; i++ {
		tune := tuning.CoarseTune + lockSearchInterval*(i-lockSearchPoints/2)
		if tune < 0 {
			tune = 0
		} else if tune > 4095 {
			tune = 4095
		}

		// Null the integrator while moving, then let the loop settle.
		if err := lo.SetNullLoopIntegrator(ctx, true); err != nil {
			return Tuning{}, err
		}
		if err := lo.SetYTOCoarseTune(ctx, tune); err != nil {
			return Tuning{}, err
		}
		if err := sleepCtx(ctx, pllSettle); err != nil {
			return Tuning{}, err
		}
		if err := lo.SetNullLoopIntegrator(ctx, false); err != nil {
			return Tuning{}, err
		}
		if err := sleepCtx(ctx, pllSettle); err != nil {
			return Tuning{}, err
		}

		info, err := lo.LockInfo(ctx)
		if err != nil {
			return Tuning{}, err
		}
		if info.Locked {
			locked = append(locked, probe{corrV: float64(info.CorrectionVoltage), coarse: tune})
		}
	}

	switch len(locked) {
	case 0:
		return Tuning{}, fmt.Errorf("%w: no locking tunings near %d counts", ErrNoLock, tuning.CoarseTune)
	case 1:
		if err := lo.SetYTOCoarseTune(ctx, locked[0].coarse); err != nil {
			return Tuning{}, err
		}
		if err := sleepCtx(ctx, pllSettle); err != nil {
			return Tuning{}, err
		}
		if _, err := lo.AdjustPLL(ctx, 0); err != nil {
			return Tuning{}, err
		}
	default:
		first, last := locked[0], locked[len(locked)-1]
		slope := (last.corrV - first.corrV) / float64(last.coarse-first.coarse)
		var tuneZero int
		if slope <= -0.001 {
			tuneZero = int(-first.corrV/slope) + first.coarse
		} else {
			// Degenerate slope, settle for the midpoint.
			tuneZero = (first.coarse + last.coarse) / 2
		}
		if err := lo.SetYTOCoarseTune(ctx, tuneZero); err != nil {
			return Tuning{}, err
		}
		if err := sleepCtx(ctx, pllSettle); err != nil {
			return Tuning{}, err
		}
		if err := lo.ClearUnlockDetect(ctx); err != nil {
			return Tuning{}, err
		}
	}

	info, err = lo.LockInfo(ctx)
	if err != nil {
		return Tuning{}, err
	}
	if !info.Locked {
		return Tuning{}, ErrNoLock
	}
	return tuning, nil
}

// AdjustPLL walks the YTO coarse tune one count at a time until the
// correction voltage sits within a quarter volt of targetCV, then
// clears the unlock latch. It returns the final correction voltage.
func (lo *LocalOscillator) AdjustPLL(ctx context.Context, targetCV float64) (float64, error) {
	const (
		maxDistance = 50
		window      = 0.25
		maxSteps    = 50
	)

	info, err := lo.LockInfo(ctx)
	if err != nil {
		return 0, err
	}
	if !info.Locked {
		return 0, fmt.Errorf("%w: cannot adjust an unlocked PLL", ErrNoLock)
	}
	start, err := lo.YTOCoarseTune(ctx)
	if err != nil {
		return 0, err
	}

	tryTune := int(start)
	var history []int
	for steps := maxSteps; steps > 0; steps-- {
		info, err = lo.LockInfo(ctx)
		if err != nil {
			return 0, err
		}
		cv := float64(info.CorrectionVoltage)
		if cv >= targetCV-window && cv <= targetCV+window {
			break
		}
		// The control loop can oscillate between two adjacent tunings.
		if len(history) == 5 && history[0] == history[2] && history[2] == history[4] {
			break
		}
		if cv > targetCV {
			tryTune++
		} else {
			tryTune--
		}
		if d := tryTune - int(start); d > maxDistance || d < -maxDistance {
			return 0, fmt.Errorf("device: PLL adjust wandered more than %d counts from %d", maxDistance, start)
		}
		if tryTune >= 0 && tryTune <= 4095 {
			if err := lo.SetYTOCoarseTune(ctx, tryTune); err != nil {
				return 0, err
			}
		}
		history = append(history, tryTune)
		if len(history) > 5 {
			history = history[len(history)-5:]
		}
	}

	info, err = lo.LockInfo(ctx)
	if err != nil {
		return 0, err
	}
	if !info.Locked {
		return 0, fmt.Errorf("%w: lost lock while adjusting", ErrNoLock)
	}
	if err := lo.ClearUnlockDetect(ctx); err != nil {
		return 0, err
	}
	return float64(info.CorrectionVoltage), nil
}
