package zone

import (
	"fmt"
	"strconv"
)

// State is the lifecycle state of a zone as reported by zoneadm(8). Only the
// states the build zone can legitimately be found in are representable.
type State int

// Zone states handled by the lifecycle manager.
const (
	StateConfigured State = iota
	StateIncomplete
	StateInstalled
	StateMounted
	StateRunning
)

var stateNames = map[State]string{
	StateConfigured: "configured",
	StateIncomplete: "incomplete",
	StateInstalled:  "installed",
	StateMounted:    "mounted",
	StateRunning:    "running",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// StateError reports a zone in a state the manager does not know how to
// handle. It is always fatal.
type StateError struct {
	Zone  string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("zone %s is in unexpected state %q", e.Zone, e.State)
}

// ParseState converts a zoneadm state string for the named zone.
func ParseState(zoneName, raw string) (State, error) {
	for state, name := range stateNames {
		if name == raw {
			return state, nil
		}
	}
	return 0, &StateError{Zone: zoneName, State: raw}
}

// Zone is one record from `zoneadm list -cip`.
type Zone struct {
	ID     *int64
	Name   string
	State  string
	Path   string
	UUID   string
	Brand  string
	IPType string
}

// Zones is a zone listing.
type Zones []Zone

// ByName returns the named zone, if present.
func (zs Zones) ByName(name string) (Zone, bool) {
	for _, z := range zs {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}
