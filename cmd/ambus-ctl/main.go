// Command ambus-ctl is an interactive operator shell for monitor and
// control of devices on an AMB bus.
//
// Usage:
//
//	ambus-ctl [flags]
//
// Flags:
//
//	-profile string   Default protocol profile (default "amb-classic")
//	-log-file string  Write a CBOR bus traffic log to this file
//	-verbose          Echo traffic events to stderr
//
// Examples:
//
//	# Talk to a bridged adapter found via discover
//	ambus-ctl
//	ambus> discover
//	ambus> open tcp:bridge.local:9278 amb-bridged
//	ambus> scan
//	ambus> node 0x13
//	ambus> monitor FEMC_VERSION
//
//	# Sweep an I-V curve on band 6
//	ambus> band 6
//	ambus> sweep 0 1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ambus-protocol/ambus-go/cmd/ambus-ctl/shell"
	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/profile"
)

func main() {
	var (
		profileName = flag.String("profile", profile.DefaultName, "Default protocol profile")
		logFile     = flag.String("log-file", "", "Write a CBOR bus traffic log to this file")
		verbose     = flag.Bool("verbose", false, "Echo traffic events to stderr")
	)
	flag.Parse()

	if _, err := profile.Load(*profileName); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var loggers []log.Logger
	if *logFile != "" {
		fl, err := log.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file: %v\n", err)
			os.Exit(1)
		}
		defer fl.Close()
		loggers = append(loggers, fl)
	}

	sh, err := shell.New(shell.Config{Profile: *profileName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *verbose {
		// Route console logging through readline so traffic lines do
		// not clobber the prompt.
		zl := zerolog.New(zerolog.ConsoleWriter{Out: sh.Stdout()}).With().Timestamp().Logger()
		loggers = append(loggers, log.NewZerologAdapter(zl))
	}

	if len(loggers) > 0 {
		if err := sh.SetLogger(log.NewMultiLogger(loggers...)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sh.Run(ctx, cancel)
}
