package log

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter writes bus events to a zerolog.Logger. Services that
// already run zerolog for operational logging can merge bus traffic into
// the same stream.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a new ZerologAdapter that writes to the given logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event at Debug level.
func (a *ZerologAdapter) Log(event Event) {
	e := a.logger.Debug().
		Str("session_id", event.SessionID).
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())

	if event.AdapterID != "" {
		e = e.Str("adapter", event.AdapterID)
	}

	switch {
	case event.Frame != nil:
		e = e.Uint32("frame_id", event.Frame.ID).
			Int("frame_len", len(event.Frame.Data))
	case event.Transaction != nil:
		e = e.Str("kind", event.Transaction.Kind.String()).
			Uint8("node", uint8(event.Transaction.Node)).
			Uint32("rca", uint32(event.Transaction.RCA)).
			Int("attempts", event.Transaction.Attempts)
		if event.Transaction.Name != "" {
			e = e.Str("command", event.Transaction.Name)
		}
		if event.Transaction.Err != "" {
			e = e.Str("error", event.Transaction.Err)
		}
	case event.StateChange != nil:
		e = e.Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			e = e.Str("reason", event.StateChange.Reason)
		}
	case event.Error != nil:
		e = e.Str("error_layer", event.Error.Layer.String()).
			Str("error_msg", event.Error.Message)
	}

	e.Msg("bus")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
