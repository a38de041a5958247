package device

import (
	"bytes"
	"context"
	"testing"

	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func newTestModule(t *testing.T) (*Module, *transport.SimNode) {
	t.Helper()
	conn, _, node := newTestConn(t)
	m, err := NewModule(conn, testNode)
	if err != nil {
		t.Fatalf("NewModule failed: %v", err)
	}
	return m, node
}

func TestModuleConnect(t *testing.T) {
	m, node := newTestModule(t)
	ctx := context.Background()

	node.SetRegister(rcaSetupInfo, []byte{0})
	if err := m.Connect(ctx); err != nil {
		t.Errorf("link up at power-on: %v", err)
	}

	node.SetRegister(rcaSetupInfo, []byte{5})
	if err := m.Connect(ctx); err != nil {
		t.Errorf("link already up: %v", err)
	}

	node.SetRegister(rcaSetupInfo, []byte{1})
	if err := m.Connect(ctx); err == nil {
		t.Error("expected link error for setup info 1")
	}
}

func TestModuleVersions(t *testing.T) {
	m, node := newTestModule(t)
	node.SetRegister(rcaAMBSIVersion, []byte{1, 0, 0})
	node.SetRegister(rcaFEMCVersion, []byte{2, 8, 7})
	node.SetRegister(rcaFPGAVersion, []byte{0, 5, 1})
	ctx := context.Background()

	if v, err := m.AMBSIVersion(ctx); err != nil || v != "1.0.0" {
		t.Errorf("AMBSIVersion = %q, %v", v, err)
	}
	if v, err := m.FEMCVersion(ctx); err != nil || v != "2.8.7" {
		t.Errorf("FEMCVersion = %q, %v", v, err)
	}
	if v, err := m.FPGAVersion(ctx); err != nil || v != "0.5.1" {
		t.Errorf("FPGAVersion = %q, %v", v, err)
	}
}

func TestModuleMode(t *testing.T) {
	m, node := newTestModule(t)
	node.SetRegister(rcaFEMode, []byte{2})
	ctx := context.Background()

	mode, err := m.Mode(ctx)
	if err != nil || mode != FEModeMaintenance {
		t.Errorf("Mode = %v, %v", mode, err)
	}

	if err := m.SetMode(ctx, FEModeTroubleshooting); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if stored, ok := node.Register(rcaSetFEMode); !ok || stored[0] != 1 {
		t.Errorf("stored mode: %v, %v", stored, ok)
	}

	if err := m.SetMode(ctx, FEMode(9)); err == nil {
		t.Error("expected error for unsupported mode")
	}
}

func TestFEModeString(t *testing.T) {
	tests := []struct {
		mode FEMode
		want string
	}{
		{FEModeOperational, "operational"},
		{FEModeTroubleshooting, "troubleshooting"},
		{FEModeMaintenance, "maintenance"},
		{FEModeSimulate, "simulate"},
		{FEMode(7), "FEMode(7)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", uint8(tt.mode), got, tt.want)
		}
	}
}

func TestModuleESNs(t *testing.T) {
	m, node := newTestModule(t)
	esn := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 1}
	node.SetRegister(rcaESNsFound, []byte{2})
	node.SetRegister(rcaNextESN, esn)
	ctx := context.Background()

	esns, err := m.ESNs(ctx, false)
	if err != nil {
		t.Fatalf("ESNs failed: %v", err)
	}
	if len(esns) != 2 || !bytes.Equal(esns[0], esn) || !bytes.Equal(esns[1], esn) {
		t.Errorf("esns: %v", esns)
	}
}

func TestModuleESNRescan(t *testing.T) {
	m, node := newTestModule(t)
	node.SetRegister(rcaESNsFound, []byte{0})
	ctx := context.Background()

	if _, err := m.ESNs(ctx, true); err != nil {
		t.Fatalf("ESNs failed: %v", err)
	}
	if stored, ok := node.Register(rcaSetReadESN); !ok || stored[0] != 1 {
		t.Errorf("rescan command: %v, %v", stored, ok)
	}
}

func TestModuleBandPower(t *testing.T) {
	m, node := newTestModule(t)
	ctx := context.Background()

	if err := m.SetBandPower(ctx, 4, true); err != nil {
		t.Fatalf("SetBandPower failed: %v", err)
	}
	// Band 4's power register sits at 0x30 past the base.
	if stored, ok := node.Register(rcaSetCartPower + 0x30); !ok || stored[0] != 1 {
		t.Errorf("band 4 power command: %v, %v", stored, ok)
	}

	node.SetRegister(rcaCartPower+0x30, []byte{1})
	on, err := m.BandPower(ctx, 4)
	if err != nil || !on {
		t.Errorf("BandPower = %v, %v", on, err)
	}

	if err := m.SetBandPower(ctx, 11, true); err == nil {
		t.Error("expected error for band 11")
	}
	if err := m.SetBandPower(ctx, 0, true); err == nil {
		t.Error("expected error for band 0")
	}
}

func TestModuleAllBandsOff(t *testing.T) {
	m, node := newTestModule(t)
	if err := m.AllBandsOff(context.Background()); err != nil {
		t.Fatalf("AllBandsOff failed: %v", err)
	}
	for band := 1; band <= 10; band++ {
		rca := rcaSetCartPower + wire.RCA(band-1)<<4
		if stored, ok := node.Register(rca); !ok || stored[0] != 0 {
			t.Errorf("band %d: %v, %v", band, stored, ok)
		}
	}
}

func TestModuleNumBandsPowered(t *testing.T) {
	m, node := newTestModule(t)
	node.SetRegister(rcaNumBandsPowered, []byte{3})

	n, err := m.NumBandsPowered(context.Background())
	if err != nil || n != 3 {
		t.Errorf("NumBandsPowered = %d, %v", n, err)
	}
}
