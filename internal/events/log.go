package events

import "github.com/rs/zerolog"

// failureKinds are logged at warn level; everything else at debug.
var failureKinds = map[Kind]bool{
	ValidationFailed: true,
	PermanentFailure: true,
	ProcessorError:   true,
	QueueFull:        true,
	StorageError:     true,
}

// LogTo returns a Handler that writes every event to l. Failures and events
// carrying an error are logged at warn level.
func LogTo(l zerolog.Logger) Handler {
	return func(e Event) {
		ev := l.Debug()
		if failureKinds[e.Kind] || e.Err != nil {
			ev = l.Warn()
		}
		ev = ev.Str("event", string(e.Kind)).Time("at", e.Time)
		if e.MessageID != "" {
			ev = ev.Str("message_id", e.MessageID)
		}
		if e.RoomID != "" {
			ev = ev.Str("room_id", e.RoomID)
		}
		if e.Result != "" {
			ev = ev.Str("result", e.Result)
		}
		if e.Status != "" {
			ev = ev.Str("status", e.Status)
		}
		if e.Count != 0 {
			ev = ev.Int("count", e.Count)
		}
		if e.Path != "" {
			ev = ev.Str("path", e.Path)
		}
		if e.Err != nil {
			ev = ev.Err(e.Err)
		}
		ev.Msg("event")
	}
}
