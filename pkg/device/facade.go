package device

import (
	"context"
	"fmt"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/registry"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Facade binds a command registry to one node on one connection. All
// traffic goes through name-based lookups against the registry.
type Facade struct {
	conn bus.Connection
	node wire.NodeID
	reg  *registry.Registry
}

// New builds a facade for node over conn, composing the given layers.
func New(conn bus.Connection, node wire.NodeID, layers ...registry.Layer) (*Facade, error) {
	reg, err := registry.Compose(layers...)
	if err != nil {
		return nil, err
	}
	return &Facade{conn: conn, node: node, reg: reg}, nil
}

// Node returns the node this facade talks to.
func (f *Facade) Node() wire.NodeID { return f.node }

// Registry exposes the composed command registry.
func (f *Facade) Registry() *registry.Registry { return f.reg }

// Conn returns the underlying connection.
func (f *Facade) Conn() bus.Connection { return f.conn }

// Monitor reads the named register and returns its decoded value.
func (f *Facade) Monitor(ctx context.Context, name string) (any, error) {
	return f.MonitorAt(ctx, name, 0)
}

// MonitorAt reads the named register at an RCA offset from its base.
// Offsets select the polarization, device or stage variant of a command.
func (f *Facade) MonitorAt(ctx context.Context, name string, offset wire.RCA) (any, error) {
	t, err := f.MonitorTransaction(name, offset)
	if err != nil {
		return nil, err
	}
	res := f.conn.Monitor(ctx, t)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

// Control writes value to the named register.
func (f *Facade) Control(ctx context.Context, name string, value any) error {
	return f.ControlAt(ctx, name, 0, value)
}

// ControlAt writes value to the named register at an RCA offset.
func (f *Facade) ControlAt(ctx context.Context, name string, offset wire.RCA, value any) error {
	t, err := f.ControlTransaction(name, offset, value)
	if err != nil {
		return err
	}
	return f.conn.Control(ctx, t).Err
}

// Run executes a sequence on the underlying connection.
func (f *Facade) Run(ctx context.Context, seq bus.Sequence) []bus.Result {
	return f.conn.RunSequence(ctx, seq)
}

// Close releases the underlying connection.
func (f *Facade) Close() error { return f.conn.Close() }

// MonitorTransaction builds the monitor transaction for a named
// register, for callers assembling sequences.
func (f *Facade) MonitorTransaction(name string, offset wire.RCA) (bus.Transaction, error) {
	d, err := f.resolve(name, wire.Monitor)
	if err != nil {
		return bus.Transaction{}, err
	}
	addr := wire.Address{Node: f.node, RCA: d.RCA + offset}
	return bus.NewMonitor(addr).WithName(name).WithDecode(d.ReplyLength, d.Decode), nil
}

// ControlTransaction builds the control transaction for a named register.
func (f *Facade) ControlTransaction(name string, offset wire.RCA, value any) (bus.Transaction, error) {
	d, err := f.resolve(name, wire.Control)
	if err != nil {
		return bus.Transaction{}, err
	}
	addr := wire.Address{Node: f.node, RCA: d.RCA + offset}
	payload, err := d.Encode(value)
	if err != nil {
		return bus.Transaction{}, bus.NewError(bus.KindEncoding, name, addr, err)
	}
	return bus.NewControl(addr, payload).WithName(name), nil
}

func (f *Facade) resolve(name string, dir wire.Direction) (registry.Descriptor, error) {
	d, err := f.reg.Resolve(name)
	if err != nil {
		return registry.Descriptor{}, bus.NewError(bus.KindUnknownCommand, name, wire.Address{Node: f.node}, err)
	}
	if d.Dir != dir {
		return registry.Descriptor{}, bus.NewError(bus.KindUnknownCommand, name,
			wire.Address{Node: f.node, RCA: d.RCA},
			fmt.Errorf("%s is a %s command, not %s", name, d.Dir, dir))
	}
	return d, nil
}

// monitorValue reads a named register and asserts the decoded type.
func monitorValue[T any](ctx context.Context, f *Facade, name string, offset wire.RCA) (T, error) {
	var zero T
	v, err := f.MonitorAt(ctx, name, offset)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("device: %s decoded to %T, want %T", name, v, zero)
	}
	return t, nil
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
