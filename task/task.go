package task

import (
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

// State is the lifecycle state of a worker container or of a job.
type State int

const (
	Pending State = iota
	Scheduled
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := Pending; st <= Failed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Pending, fmt.Errorf("unknown state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

var stateTransitionMap = map[State][]State{
	Pending:   {Scheduled},
	Scheduled: {Scheduled, Running, Failed},
	Running:   {Running, Completed, Failed},
	Completed: {},
	Failed:    {},
}

func contains(states []State, state State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// ValidStateTransition reports whether src may move to dst.
func ValidStateTransition(src State, dst State) bool {
	return contains(stateTransitionMap[src], dst)
}

// StateFromDocker maps a Docker container state ("created", "running",
// "exited", ...) onto a task state.
func StateFromDocker(state string) State {
	switch state {
	case "created":
		return Scheduled
	case "running", "restarting":
		return Running
	case "exited":
		return Completed
	case "dead", "removing":
		return Failed
	default:
		return Pending
	}
}

// Task is one worker container in the pool.
type Task struct {
	ID            uuid.UUID
	ContainerID   string
	Name          string
	State         State
	Image         string
	CPU           float64
	Memory        int64
	ExposedPorts  nat.PortSet
	RestartPolicy string
	StartTime     time.Time
	FinishTime    time.Time
}
