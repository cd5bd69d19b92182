package radio

import (
	"fmt"
	"slices"
)

// Phase is the coarse state of the radio.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
)

// State is the radio phase plus the SSID it refers to. SSID is empty for
// Idle and Disconnected.
type State struct {
	Phase Phase  `json:"phase"`
	SSID  string `json:"ssid,omitempty"`
}

func (s State) String() string {
	if s.SSID == "" {
		return string(s.Phase)
	}
	return fmt.Sprintf("%s(%s)", s.Phase, s.SSID)
}

// ValidTransitions defines the allowed radio phase transitions.
// Key is the current phase, value is a slice of valid next phases.
var ValidTransitions = map[Phase][]Phase{
	PhaseIdle: {
		PhaseConnecting,
		PhaseConnected, // association made outside camrelay
	},
	PhaseConnecting: {
		PhaseConnected,
		PhaseDisconnected,
		PhaseIdle, // attempt failed
	},
	PhaseConnected: {
		PhaseDisconnected,
	},
	PhaseDisconnected: {
		PhaseIdle,
		PhaseConnecting,
		PhaseConnected,
	},
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to Phase) bool {
	validTargets, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	return slices.Contains(validTargets, to)
}

// TransitionError represents an invalid radio state transition attempt.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid radio state transition: %s -> %s", e.From, e.To)
}
