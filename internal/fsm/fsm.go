// Package fsm defines the voice-search state machine as a pure transition function.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateDelivered  State = "delivered"
	StateFailed     State = "failed"
)

const (
	EventStart       Event = "start"
	EventReady       Event = "ready"
	EventStop        Event = "stop"
	EventDeliver     Event = "deliver"
	EventFail        Event = "fail"
	EventReset       Event = "reset"
	EventAcknowledge Event = "acknowledge"
)

// Active reports whether the state holds (or is about to hold) the microphone or a
// pending recognition.
func (s State) Active() bool {
	switch s {
	case StateAcquiring, StateRecording, StateProcessing:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state is an outcome state awaiting acknowledgement.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

func Transition(current State, event Event) (State, error) {
	if event == EventReset {
		switch current {
		case StateIdle, StateAcquiring, StateRecording, StateProcessing, StateDelivered, StateFailed:
			return StateIdle, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateAcquiring, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAcquiring:
		switch event {
		case EventReady:
			return StateRecording, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateProcessing, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventDeliver:
			return StateDelivered, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDelivered, StateFailed:
		switch event {
		case EventAcknowledge:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
