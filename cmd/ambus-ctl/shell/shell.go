// Package shell provides the interactive command-line interface for
// ambus-ctl.
package shell

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/ambus-protocol/ambus-go/pkg/bus"
	"github.com/ambus-protocol/ambus-go/pkg/device"
	"github.com/ambus-protocol/ambus-go/pkg/discovery"
	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/profile"
	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// Config configures the shell.
type Config struct {
	// Profile is the protocol profile used when "open" names none.
	Profile string

	// Logger receives bus traffic events. Nil disables logging.
	Logger log.Logger
}

// Shell is the interactive operator shell. It owns at most one open
// adapter session and one selected target node at a time.
type Shell struct {
	config Config
	rl     *readline.Instance

	conn *bus.Conn
	prof *profile.Profile

	node   *device.Module
	nodeID int

	band int
	cca  *device.ColdCartridge
	lo   *device.LocalOscillator
}

// New creates a shell.
func New(config Config) (*Shell, error) {
	if config.Profile == "" {
		config.Profile = profile.DefaultName
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ambus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Shell{config: config, rl: rl, nodeID: -1}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with the command line.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// SetLogger sets the traffic logger. It must be called before a session
// is opened.
func (s *Shell) SetLogger(logger log.Logger) error {
	if s.conn != nil {
		return fmt.Errorf("cannot change logger with an open session")
	}
	s.config.Logger = logger
	return nil
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.closeSession()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "discover", "d":
			s.cmdDiscover(ctx, args)

		case "open", "o":
			s.cmdOpen(args)

		case "close":
			s.cmdClose()

		case "scan", "s":
			s.cmdScan(ctx)

		case "node", "n":
			s.cmdNode(args)

		case "band", "b":
			s.cmdBand(args)

		case "monitor", "m":
			s.cmdMonitor(ctx, args)

		case "control", "c":
			s.cmdControl(ctx, args)

		case "mode":
			s.cmdMode(ctx, args)

		case "esns":
			s.cmdESNs(ctx, args)

		case "sweep":
			s.cmdSweep(ctx, args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
AMB bus commands:
  Session:
    discover [seconds]        - browse the network for bridged adapters
    open <adapter> [profile]  - open an adapter (sim:<name> or tcp:<host:port>)
    close                     - close the open session
    scan                      - broadcast for nodes and list serial numbers

  Target selection:
    node <id>                 - select the target node (decimal or 0x hex)
    band <n> [port]           - attach cartridge personalities for a band

  Monitor and control:
    monitor <NAME>            - run a monitor point by name
    control <NAME> <value>    - run a control point (bool, int, 0x hex, float)
    mode [<mode>]             - get or set the front end mode
    esns [rescan]             - list electronic serial numbers
    sweep <pol> <sis> [low high step]
                              - measure an I-V curve on the selected band

  quit                        - exit`)
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.rl.Stdout(), format, args...)
}

func (s *Shell) cmdDiscover(ctx context.Context, args []string) {
	seconds := 3
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			s.printf("bad duration %q\n", args[0])
			return
		}
		seconds = n
	}

	browseCtx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
	defer cancel()

	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	results, err := browser.Browse(browseCtx)
	if err != nil {
		s.printf("browse failed: %v\n", err)
		return
	}

	found := 0
	for svc := range results {
		found++
		addr := svc.Host
		if len(svc.Addresses) > 0 {
			addr = svc.Addresses[0]
		}
		s.printf("  %-16s tcp:%s:%d  profile=%s channels=%d %s\n",
			svc.AdapterID, addr, svc.Port, svc.Profile, svc.Channels, svc.Description)
	}
	if found == 0 {
		s.printf("no adapters found\n")
	}
}

func (s *Shell) cmdOpen(args []string) {
	if len(args) < 1 {
		s.printf("usage: open <adapter> [profile]\n")
		return
	}
	if s.conn != nil {
		s.printf("a session is already open; close it first\n")
		return
	}

	profileName := s.config.Profile
	if len(args) > 1 {
		profileName = args[1]
	}
	prof, err := profile.Load(profileName)
	if err != nil {
		s.printf("%v\n", err)
		return
	}

	session, err := transport.Open(args[0], prof.Timing.BitRate)
	if err != nil {
		s.printf("open failed: %v\n", err)
		return
	}

	cfg := prof.BusConfig()
	cfg.Logger = s.config.Logger
	s.conn = bus.NewConn(session, cfg)
	s.prof = prof
	s.printf("opened %s (profile %s, timeout %v)\n", args[0], prof.Name, prof.Timeout())
}

func (s *Shell) cmdClose() {
	if s.conn == nil {
		s.printf("no open session\n")
		return
	}
	s.closeSession()
	s.printf("closed\n")
}

func (s *Shell) closeSession() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.prof = nil
	s.node = nil
	s.nodeID = -1
	s.band = 0
	s.cca = nil
	s.lo = nil
}

func (s *Shell) cmdScan(ctx context.Context) {
	if s.conn == nil {
		s.printf("no open session\n")
		return
	}

	nodes, err := s.conn.FindNodes(ctx)
	if err != nil {
		s.printf("scan failed: %v\n", err)
		return
	}
	if len(nodes) == 0 {
		s.printf("no nodes answered\n")
		return
	}
	for _, n := range nodes {
		s.printf("  node 0x%02X  serial %s\n", uint8(n.ID), hex.EncodeToString(n.Serial))
	}
}

func (s *Shell) cmdNode(args []string) {
	if s.conn == nil {
		s.printf("no open session\n")
		return
	}
	if len(args) < 1 {
		if s.nodeID < 0 {
			s.printf("no node selected\n")
		} else {
			s.printf("node 0x%02X\n", s.nodeID)
		}
		return
	}

	id, err := parseInt(args[0])
	if err != nil || id < 0 || id > 0x7F {
		s.printf("bad node id %q\n", args[0])
		return
	}

	mod, err := device.NewModule(s.conn, wire.NodeID(id))
	if err != nil {
		s.printf("%v\n", err)
		return
	}

	s.node = mod
	s.nodeID = id
	s.band = 0
	s.cca = nil
	s.lo = nil
	s.printf("node 0x%02X selected\n", id)
}

func (s *Shell) cmdBand(args []string) {
	if s.node == nil {
		s.printf("no node selected\n")
		return
	}
	if len(args) < 1 {
		if s.band == 0 {
			s.printf("no band selected\n")
		} else {
			s.printf("band %d\n", s.band)
		}
		return
	}

	band, err := strconv.Atoi(args[0])
	if err != nil || band < 1 || band > 10 {
		s.printf("bad band %q\n", args[0])
		return
	}
	port := band
	if len(args) > 1 {
		port, err = strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 15 {
			s.printf("bad port %q\n", args[1])
			return
		}
	}

	cca, err := device.NewColdCartridge(s.conn, wire.NodeID(s.nodeID), band, port)
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	lo, err := device.NewLocalOscillator(s.conn, wire.NodeID(s.nodeID), band, port)
	if err != nil {
		s.printf("%v\n", err)
		return
	}

	s.band = band
	s.cca = cca
	s.lo = lo
	s.printf("band %d on port %d\n", band, port)
}

// facades returns the facades to try for name resolution, most specific
// first.
func (s *Shell) facades() []*device.Facade {
	var out []*device.Facade
	if s.cca != nil {
		out = append(out, s.cca.Facade)
	}
	if s.lo != nil {
		out = append(out, s.lo.Facade)
	}
	if s.node != nil {
		out = append(out, s.node.Facade)
	}
	return out
}

func (s *Shell) cmdMonitor(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.printf("usage: monitor <NAME>\n")
		return
	}
	facades := s.facades()
	if len(facades) == 0 {
		s.printf("no node selected\n")
		return
	}

	name := strings.ToUpper(args[0])
	for _, f := range facades {
		value, err := f.Monitor(ctx, name)
		if err == nil {
			s.printValue(name, value)
			return
		}
		if !errors.Is(err, bus.ErrUnknownCommand) {
			s.printf("%v\n", err)
			return
		}
	}
	s.printf("unknown monitor point %s\n", name)
}

func (s *Shell) cmdControl(ctx context.Context, args []string) {
	if len(args) < 2 {
		s.printf("usage: control <NAME> <value>\n")
		return
	}
	facades := s.facades()
	if len(facades) == 0 {
		s.printf("no node selected\n")
		return
	}

	name := strings.ToUpper(args[0])
	value, err := parseValue(args[1])
	if err != nil {
		s.printf("%v\n", err)
		return
	}

	for _, f := range facades {
		err := f.Control(ctx, name, value)
		if err == nil {
			s.printf("ok\n")
			return
		}
		if !errors.Is(err, bus.ErrUnknownCommand) {
			s.printf("%v\n", err)
			return
		}
	}
	s.printf("unknown control point %s\n", name)
}

func (s *Shell) cmdMode(ctx context.Context, args []string) {
	if s.node == nil {
		s.printf("no node selected\n")
		return
	}

	if len(args) == 0 {
		mode, err := s.node.Mode(ctx)
		if err != nil {
			s.printf("%v\n", err)
			return
		}
		s.printf("%s\n", mode)
		return
	}

	mode, ok := parseFEMode(args[0])
	if !ok {
		s.printf("bad mode %q (operational, troubleshooting, maintenance, simulate)\n", args[0])
		return
	}
	if err := s.node.SetMode(ctx, mode); err != nil {
		s.printf("%v\n", err)
		return
	}
	s.printf("mode set to %s\n", mode)
}

func (s *Shell) cmdESNs(ctx context.Context, args []string) {
	if s.node == nil {
		s.printf("no node selected\n")
		return
	}

	rescan := len(args) > 0 && strings.EqualFold(args[0], "rescan")
	esns, err := s.node.ESNs(ctx, rescan)
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	if len(esns) == 0 {
		s.printf("no serial numbers found\n")
		return
	}
	for i, esn := range esns {
		s.printf("  %2d: %s\n", i, hex.EncodeToString(esn))
	}
}

func (s *Shell) cmdSweep(ctx context.Context, args []string) {
	if s.cca == nil {
		s.printf("no band selected\n")
		return
	}
	if len(args) != 2 && len(args) != 5 {
		s.printf("usage: sweep <pol> <sis> [low high step]\n")
		return
	}

	pol, err1 := strconv.Atoi(args[0])
	sis, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		s.printf("bad pol/sis\n")
		return
	}

	var low, high, step float64
	if len(args) == 5 {
		var errs [3]error
		low, errs[0] = strconv.ParseFloat(args[2], 64)
		high, errs[1] = strconv.ParseFloat(args[3], 64)
		step, errs[2] = strconv.ParseFloat(args[4], 64)
		for _, err := range errs {
			if err != nil {
				s.printf("bad sweep range\n")
				return
			}
		}
	}

	start := time.Now()
	curve, err := s.cca.MeasureIVCurve(ctx, pol, sis, low, high, step)
	if err != nil {
		s.printf("sweep failed: %v\n", err)
		return
	}
	s.printf("%d points in %v\n", len(curve.VjSet), time.Since(start).Round(time.Millisecond))
	s.printf("  %10s %10s %10s\n", "Vj set", "Vj read", "Ij read")
	for i := range curve.VjSet {
		s.printf("  %10.4f %10.4f %10.4f\n", curve.VjSet[i], curve.VjRead[i], curve.IjRead[i])
	}
}

func (s *Shell) printValue(name string, value any) {
	switch v := value.(type) {
	case []byte:
		s.printf("%s = %s\n", name, hex.EncodeToString(v))
	default:
		s.printf("%s = %v\n", name, v)
	}
}

func parseFEMode(arg string) (device.FEMode, bool) {
	switch strings.ToLower(arg) {
	case "operational", "0":
		return device.FEModeOperational, true
	case "troubleshooting", "1":
		return device.FEModeTroubleshooting, true
	case "maintenance", "2":
		return device.FEModeMaintenance, true
	case "simulate", "3":
		return device.FEModeSimulate, true
	}
	return 0, false
}

// parseValue turns a command-line literal into the Go value a control
// descriptor's encoder accepts.
func parseValue(arg string) (any, error) {
	switch strings.ToLower(arg) {
	case "true", "on":
		return true, nil
	case "false", "off":
		return false, nil
	}
	if n, err := parseInt(arg); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("cannot parse value %q", arg)
}

func parseInt(arg string) (int, error) {
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		n, err := strconv.ParseInt(arg[2:], 16, 32)
		return int(n), err
	}
	n, err := strconv.ParseInt(arg, 10, 32)
	return int(n), err
}
