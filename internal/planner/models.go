package planner

import (
	"fmt"
	"strings"

	"github.com/cochaviz/ipsbuild/internal/ips"
	"github.com/cochaviz/ipsbuild/internal/mapping"
)

// Entry is a queued package reference.
type Entry struct {
	FMRI     string `json:"fmri"`
	Optional bool   `json:"optional"`
}

// State is the persisted progress of a plan. Seen holds normalized names,
// each attempted at most once per run; Queue is processed front first; Fails
// collects entries whose build failed while failures were being skipped.
type State struct {
	Seen  []string `json:"seen"`
	Queue []Entry  `json:"q"`
	Fails []Entry  `json:"fails"`
}

// NewState starts a plan from seed packages.
func NewState(seeds ...string) State {
	state := State{
		Seen:  []string{},
		Queue: make([]Entry, 0, len(seeds)),
		Fails: []Entry{},
	}
	for _, seed := range seeds {
		state.Queue = append(state.Queue, Entry{FMRI: seed})
	}
	return state
}

func (s *State) normalize() {
	if s.Seen == nil {
		s.Seen = []string{}
	}
	if s.Queue == nil {
		s.Queue = []Entry{}
	}
	if s.Fails == nil {
		s.Fails = []Entry{}
	}
}

// RetryFails moves failed entries back onto the queue and forgets that they
// were seen, so the next run attempts them again.
func RetryFails(state State) State {
	state.normalize()
	if len(state.Fails) == 0 {
		return state
	}

	retry := make(map[string]struct{}, len(state.Fails))
	for _, e := range state.Fails {
		retry[ips.Normalize(e.FMRI)] = struct{}{}
	}

	seen := make([]string, 0, len(state.Seen))
	for _, name := range state.Seen {
		if _, ok := retry[name]; !ok {
			seen = append(seen, name)
		}
	}

	queue := make([]Entry, 0, len(state.Fails)+len(state.Queue))
	queue = append(queue, state.Fails...)
	queue = append(queue, state.Queue...)

	return State{Seen: seen, Queue: queue, Fails: []Entry{}}
}

// MappingError reports a package that resolved to no source location or to
// more than one.
type MappingError struct {
	Package string
	Matches []mapping.Location
}

func (e *MappingError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no source location for package %s", e.Package)
	}
	paths := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		paths = append(paths, m.Path)
	}
	return fmt.Sprintf("package %s is ambiguous: %d source locations (%s)", e.Package, len(e.Matches), strings.Join(paths, ", "))
}
