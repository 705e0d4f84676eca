package stream

import "fmt"

// State is the position of a turn in its response lifecycle.
type State int

const (
	StateAwaitingDispatch State = iota
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingDispatch:
		return "AwaitingDispatch"
	case StateStreaming:
		return "Streaming"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives a State transition.
type Event int

const (
	EventContentTypeResolved Event = iota
	EventChunkReceived
	EventTransportEnded
	EventTransportFailed
)

func (e Event) String() string {
	switch e {
	case EventContentTypeResolved:
		return "ContentTypeResolved"
	case EventChunkReceived:
		return "ChunkReceived"
	case EventTransportEnded:
		return "TransportEnded"
	case EventTransportFailed:
		return "TransportFailed"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Transition returns the state reached from s on ev, or an error when ev is
// not legal in s. Done is terminal.
func Transition(s State, ev Event) (State, error) {
	switch s {
	case StateAwaitingDispatch:
		switch ev {
		case EventContentTypeResolved:
			return StateStreaming, nil
		case EventTransportEnded, EventTransportFailed:
			return StateDone, nil
		}
	case StateStreaming:
		switch ev {
		case EventChunkReceived:
			return StateStreaming, nil
		case EventTransportEnded, EventTransportFailed:
			return StateDone, nil
		}
	}
	return s, fmt.Errorf("invalid transition %s on %s", s, ev)
}
