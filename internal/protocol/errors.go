package protocol

import "fmt"

// Error is a protocol violation in an inbound frame: malformed JSON, an
// unknown event, or a missing required field. Event is EventAny when the
// frame was too broken to name one.
type Error struct {
	Event  string
	Reason string
}

func (e *Error) Error() string {
	if e.Event == "" || e.Event == EventAny {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Event, e.Reason)
}

func errorf(event, format string, args ...any) *Error {
	return &Error{Event: event, Reason: fmt.Sprintf(format, args...)}
}
