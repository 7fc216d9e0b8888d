package router

import (
	"errors"

	"lifeline/pkg/types"
)

// Action is what the dispatch layer does with a failed room event.
type Action int

const (
	// DropSilently logs the failure and tells the sender nothing.
	DropSilently Action = iota
	// NotifySender sends a system error event back to the sender.
	NotifySender
)

// Policy maps (event type, failure) to an action. Room events are
// fire-and-forget, so a vanished session is a silent no-op: a stale or
// disconnected session must never error the reporting client.
// Validation and authorization failures, by contrast, are the sender's
// fault and are surfaced.
type Policy struct{}

// Decide returns the action for a failed event.
func (Policy) Decide(event string, err error) Action {
	switch event {
	case types.EventHealthUpdate, types.EventChatSend, types.EventStatusUpdate:
		if errors.Is(err, ErrSessionNotFound) {
			return DropSilently
		}
		if errors.Is(err, ErrInvalidTransition) {
			// A racing double-stop is noise, not a client bug.
			return DropSilently
		}
		return NotifySender
	case types.EventJoinSession:
		return NotifySender
	default:
		return NotifySender
	}
}
