// Package log provides structured bus traffic logging.
//
// This package defines the Logger interface and Event types for capturing
// bus events at multiple layers (transport frames, completed transactions,
// session state). It is separate from operational logging (slog/zerolog) -
// traffic capture provides a complete machine-readable trace of everything
// that crossed the bus, for debugging and hardware commissioning analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.TrafficLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.TrafficLogger, _ = log.NewFileLogger("/var/log/ambus/session.blog")
//
//	// Both: use MultiLogger
//	cfg.TrafficLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw frames as sent/received (FrameEvent)
//   - Bus: completed transactions with attempts and outcome (TransactionEvent)
//   - Session: lifecycle changes (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with integer keys and the .blog extension.
// Reader streams and filters recorded events.
package log
