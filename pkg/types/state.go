package types

// EvolutionState labels a stage of the per-interaction state machine.
type EvolutionState = string

// Evolution state constants. Each Evolve call walks this state machine;
// the reached state is reported in the EvolutionResult so callers can
// distinguish "failed before persistence" from "persisted, then timed out".
const (
	StateReceived   = "received"   // Interaction accepted, not yet processed
	StateExtracting = "extracting" // Entity/relationship extraction in flight
	StateResolving  = "resolving"  // Candidates being resolved against the graph
	StatePersisted  = "persisted"  // All effects committed
	StateFailed     = "failed"     // Terminal failure marker
)

// ValidEvolutionStates contains all valid evolution state values.
var ValidEvolutionStates = []string{
	StateReceived,
	StateExtracting,
	StateResolving,
	StatePersisted,
	StateFailed,
}

// IsValidEvolutionState checks if the given state is a valid evolution state.
func IsValidEvolutionState(state string) bool {
	for _, valid := range ValidEvolutionStates {
		if state == valid {
			return true
		}
	}
	return false
}

// IsValidEvolutionTransition validates transitions of the per-call state
// machine:
//
//	received   -> extracting
//	extracting -> resolving | failed
//	resolving  -> persisted | failed
//	persisted  -> (terminal)
//	failed     -> (terminal; the interaction may be re-submitted as a new call)
func IsValidEvolutionTransition(currentState, newState string) bool {
	switch currentState {
	case StateReceived:
		return newState == StateExtracting
	case StateExtracting:
		return newState == StateResolving || newState == StateFailed
	case StateResolving:
		return newState == StatePersisted || newState == StateFailed
	case StatePersisted, StateFailed:
		return false // Terminal states, no transitions out
	default:
		return false
	}
}
