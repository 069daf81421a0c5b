package ips

import (
	"bufio"
	"fmt"
	"strings"
)

// Action is one parsed manifest line.
type Action interface {
	// ActionType returns the leading action word, e.g. "depend" or "file".
	ActionType() string
}

// DependAction is a fully validated depend action.
type DependAction struct {
	FMRIs       []string
	Kind        DependencyKind
	Predicates  []string
	VariantZone *string
}

func (*DependAction) ActionType() string { return "depend" }

// UnknownAction holds any action the planner does not interpret.
type UnknownAction struct {
	Type string
	Free []string
	Vals *Vals
}

func (a *UnknownAction) ActionType() string { return a.Type }

// ParseError reports a manifest line that could not be interpreted.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse manifest: %s: %s", e.Reason, e.Line)
}

type lexState int

const (
	stateRest lexState = iota
	stateType
	stateKey
	stateValue
	stateValueQuoted
	stateValueQuotedSpace
	stateValueUnquoted
)

var stateNames = [...]string{"rest", "type", "key", "value", "quoted", "after-quote", "unquoted"}

func (s lexState) String() string {
	return stateNames[s]
}

// ParseManifest parses a manifest, one action per line. Any malformed line
// fails the whole manifest. Blank lines are ignored.
func ParseManifest(input string) ([]Action, error) {
	var actions []Action

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		action, err := ParseAction(line)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return actions, nil
}

// ParseAction parses a single manifest line.
func ParseAction(line string) (Action, error) {
	actionType, free, vals, err := lexLine(line)
	if err != nil {
		return nil, err
	}

	switch actionType {
	case "depend":
		return parseDepend(line, vals)
	default:
		return &UnknownAction{Type: actionType, Free: free, Vals: vals}, nil
	}
}

func parseDepend(line string, vals *Vals) (*DependAction, error) {
	fail := func(err error) (*DependAction, error) {
		return nil, &ParseError{Line: line, Reason: err.Error()}
	}

	fmris, err := vals.List("fmri")
	if err != nil {
		return fail(err)
	}
	typ, err := vals.Single("type")
	if err != nil {
		return fail(err)
	}
	kind, err := ParseDependencyKind(typ)
	if err != nil {
		return fail(err)
	}
	predicates := vals.MaybeList("predicate")
	zone, err := vals.MaybeSingle("variant.opensolaris.zone")
	if err != nil {
		return fail(err)
	}
	if err := vals.CheckConsumed(); err != nil {
		return fail(err)
	}

	return &DependAction{
		FMRIs:       fmris,
		Kind:        kind,
		Predicates:  predicates,
		VariantZone: zone,
	}, nil
}

func isKeyChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '-', c == '_', c == '/', c == '@':
		return true
	}
	return false
}

func isAlpha(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func lexLine(line string) (string, []string, *Vals, error) {
	var (
		state  = stateRest
		action strings.Builder
		key    strings.Builder
		value  strings.Builder
		quote  rune
		free   []string
		vals   = NewVals()
	)

	fail := func(format string, args ...any) (string, []string, *Vals, error) {
		return "", nil, nil, &ParseError{Line: line, Reason: fmt.Sprintf(format, args...)}
	}

	for _, c := range line {
		switch state {
		case stateRest:
			if !isAlpha(c) {
				return fail("invalid line (%s)", state)
			}
			action.WriteRune(c)
			state = stateType

		case stateType:
			switch {
			case isAlpha(c):
				action.WriteRune(c)
			case c == ' ':
				state = stateKey
			default:
				return fail("invalid line (%s)", state)
			}

		case stateKey:
			switch {
			case isKeyChar(c):
				key.WriteRune(c)
			case c == ' ':
				if key.Len() > 0 {
					free = append(free, key.String())
				}
				key.Reset()
			case c == '=':
				if key.Len() == 0 {
					return fail("invalid line (%s, empty key)", state)
				}
				state = stateValue
			default:
				return fail("invalid line (%s, %s)", state, key.String())
			}

		case stateValue:
			value.Reset()
			if c == ' ' {
				return fail("invalid line (empty value for %s)", key.String())
			}
			if c == '"' || c == '\'' {
				// The closing quote must match the opening one.
				quote = c
				state = stateValueQuoted
			} else {
				value.WriteRune(c)
				state = stateValueUnquoted
			}

		case stateValueQuoted:
			switch c {
			case '\\':
				return fail("invalid line (backslash escapes are not supported)")
			case quote:
				state = stateValueQuotedSpace
			default:
				value.WriteRune(c)
			}

		case stateValueQuotedSpace:
			if c != ' ' {
				return fail("invalid after quote (%s, %s)", state, key.String())
			}
			vals.Insert(key.String(), value.String())
			key.Reset()
			state = stateKey

		case stateValueUnquoted:
			switch c {
			case '"', '\'':
				return fail("invalid line (errant quote)")
			case ' ':
				vals.Insert(key.String(), value.String())
				key.Reset()
				state = stateKey
			default:
				value.WriteRune(c)
			}
		}
	}

	switch state {
	case stateValueQuotedSpace, stateValueUnquoted:
		vals.Insert(key.String(), value.String())
	case stateType:
	default:
		return fail("invalid line (terminal state %s)", state)
	}

	return action.String(), free, vals, nil
}

// Dependencies returns the depend actions of a parsed manifest.
func Dependencies(actions []Action) []*DependAction {
	var out []*DependAction
	for _, a := range actions {
		if d, ok := a.(*DependAction); ok {
			out = append(out, d)
		}
	}
	return out
}
