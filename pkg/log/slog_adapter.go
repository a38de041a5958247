package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes bus events to an slog.Logger.
// Useful for development when you want to see bus traffic in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.AdapterID != "" {
		attrs = append(attrs, slog.String("adapter", event.AdapterID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Uint64("frame_id", uint64(event.Frame.ID)),
			slog.Int("frame_len", len(event.Frame.Data)),
		)
	case event.Transaction != nil:
		attrs = append(attrs,
			slog.String("kind", event.Transaction.Kind.String()),
			slog.Uint64("node", uint64(event.Transaction.Node)),
			slog.Uint64("rca", uint64(event.Transaction.RCA)),
			slog.Int("attempts", event.Transaction.Attempts),
		)
		if event.Transaction.Name != "" {
			attrs = append(attrs, slog.String("command", event.Transaction.Name))
		}
		if event.Transaction.Elapsed > 0 {
			attrs = append(attrs, slog.Duration("elapsed", event.Transaction.Elapsed))
		}
		if event.Transaction.Err != "" {
			attrs = append(attrs, slog.String("error", event.Transaction.Err))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "bus", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
