package pipeline

import "strings"

// Stage is where a partition worker is in its cycle:
// IDLE -> FETCHING -> FILTERING -> ENRICHING -> DISPATCHING -> CHECKPOINTING -> IDLE.
// FAILED is terminal.
type Stage int32

const (
	StageIdle Stage = iota
	StageFetching
	StageFiltering
	StageEnriching
	StageDispatching
	StageCheckpointing
	StageFailed
)

var stageNames = [...]string{"IDLE", "FETCHING", "FILTERING", "ENRICHING", "DISPATCHING", "CHECKPOINTING", "FAILED"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is the lifecycle of a whole pipe.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{"STARTING", "RUNNING", "STOPPING", "STOPPED", "FAILED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

// ParseState is the inverse of State.String, case insensitive.
func ParseState(s string) (State, bool) {
	for i, n := range stateNames {
		if strings.EqualFold(n, s) {
			return State(i), true
		}
	}
	return 0, false
}
