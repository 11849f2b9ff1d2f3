package mcpcan

import "fmt"

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

// Event is a status message for whatever is presenting the bridge to a user.
type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}

func (b *Bridge) sendEvent(eventType EventType, details string) {
	select {
	case b.evtChan <- Event{Type: eventType, Details: details}:
	default:
		b.log.Warn().Str("event", details).Msg("event channel full")
	}
}

// Send an error event
func (b *Bridge) errorEvent(err error) {
	b.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (b *Bridge) warnEvent(warn string) {
	b.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (b *Bridge) infoEvent(info string) {
	b.sendEvent(EventTypeInfo, info)
}
