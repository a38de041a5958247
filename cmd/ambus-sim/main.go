// Command ambus-sim serves a simulated front end over the TCP bridge.
//
// It populates an in-memory bus with one front end node, exposes it the
// way a real bridge host would, and advertises the adapter over mDNS so
// ambus-ctl can find it with "discover".
//
// Usage:
//
//	ambus-sim [flags]
//
// Flags:
//
//	-listen string     Listen address (default ":9278")
//	-node int          Node id of the simulated front end (default 0x13)
//	-bands string      Comma-separated cartridge bands to populate (default "6")
//	-latency duration  Simulated bus round-trip latency (default 1ms)
//	-adapter string    Advertised adapter id (default "sim0")
//	-profile string    Advertised protocol profile (default "amb-classic")
//	-mdns              Advertise over mDNS (default true)
//	-log-file string   Write a CBOR bus traffic log to this file
//
// Example:
//
//	ambus-sim -bands 3,6,7 -latency 2ms
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ambus-protocol/ambus-go/pkg/discovery"
	"github.com/ambus-protocol/ambus-go/pkg/examples"
	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/profile"
	"github.com/ambus-protocol/ambus-go/pkg/transport"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

func main() {
	var (
		listen      = flag.String("listen", ":9278", "Listen address")
		nodeID      = flag.Int("node", 0x13, "Node id of the simulated front end")
		bandList    = flag.String("bands", "6", "Comma-separated cartridge bands to populate")
		latency     = flag.Duration("latency", time.Millisecond, "Simulated bus round-trip latency")
		adapterID   = flag.String("adapter", "sim0", "Advertised adapter id")
		profileName = flag.String("profile", profile.DefaultName, "Advertised protocol profile")
		mdns        = flag.Bool("mdns", true, "Advertise over mDNS")
		logFile     = flag.String("log-file", "", "Write a CBOR bus traffic log to this file")
	)
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	prof, err := profile.Load(*profileName)
	if err != nil {
		zl.Fatal().Err(err).Msg("bad profile")
	}
	if *nodeID < 0 || *nodeID > int(prof.Format().MaxNode) {
		zl.Fatal().Int("node", *nodeID).Msg("node id out of range")
	}
	bands, err := parseBands(*bandList)
	if err != nil {
		zl.Fatal().Err(err).Msg("bad band list")
	}

	var loggers []log.Logger
	loggers = append(loggers, log.NewZerologAdapter(zl))
	if *logFile != "" {
		fl, err := log.NewFileLogger(*logFile)
		if err != nil {
			zl.Fatal().Err(err).Msg("cannot open log file")
		}
		defer fl.Close()
		loggers = append(loggers, fl)
	}
	logger := log.NewMultiLogger(loggers...)

	simBus := transport.NewSimBus(prof.Format())
	simBus.SetLatency(*latency)
	if _, err := examples.PopulateFrontEnd(simBus, examples.FrontEndConfig{
		Node:  wire.NodeID(*nodeID),
		Bands: bands,
	}); err != nil {
		zl.Fatal().Err(err).Msg("cannot populate front end")
	}

	backend, err := simBus.Open("sim:" + *adapterID)
	if err != nil {
		zl.Fatal().Err(err).Msg("cannot open backend session")
	}
	defer backend.Close()

	server, err := transport.NewServer(transport.ServerConfig{
		Address: *listen,
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("cannot create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		zl.Fatal().Err(err).Msg("cannot start server")
	}
	zl.Info().
		Stringer("addr", server.Addr()).
		Int("node", *nodeID).
		Ints("bands", bands).
		Msg("simulated front end up")

	if *mdns {
		advertiser := discovery.NewAdvertiser(discovery.DefaultAdvertiserConfig())
		defer advertiser.StopAll()

		host, _ := os.Hostname()
		info := &discovery.AdapterInfo{
			ID:          *adapterID,
			Channels:    1,
			Profile:     prof.Name,
			Description: fmt.Sprintf("simulated front end, node 0x%02X", *nodeID),
			Port:        listenPort(server.Addr()),
			Host:        host,
		}
		if err := advertiser.Advertise(ctx, info); err != nil {
			zl.Warn().Err(err).Msg("mDNS advertise failed")
		} else {
			zl.Info().Str("service", discovery.ServiceType).Str("id", *adapterID).Msg("advertising")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl.Info().Stringer("signal", sig).Msg("shutting down")

	if err := server.Stop(); err != nil {
		zl.Error().Err(err).Msg("server stop")
	}
}

func parseBands(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var bands []int
	for _, part := range strings.Split(list, ",") {
		band, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad band %q", part)
		}
		bands = append(bands, band)
	}
	return bands, nil
}

func listenPort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return discovery.DefaultPort
}
