package zone

import "fmt"

// Action is a single teardown step.
type Action int

// Teardown actions, in the order they are applied.
const (
	ActionUnmount Action = iota
	ActionHalt
	ActionUninstall
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionUnmount:
		return "unmount"
	case ActionHalt:
		return "halt"
	case ActionUninstall:
		return "uninstall"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

var teardownPlans = map[State][]Action{
	StateMounted:    {ActionUnmount, ActionHalt, ActionUninstall, ActionDelete},
	StateRunning:    {ActionHalt, ActionUninstall, ActionDelete},
	StateInstalled:  {ActionUninstall, ActionDelete},
	StateIncomplete: {ActionUninstall, ActionDelete},
	StateConfigured: {ActionDelete},
}

// TeardownPlan returns the ordered actions that take a zone in the given state
// to nonexistence.
func TeardownPlan(s State) ([]Action, error) {
	plan, ok := teardownPlans[s]
	if !ok {
		return nil, &StateError{State: s.String()}
	}
	out := make([]Action, len(plan))
	copy(out, plan)
	return out, nil
}
