package ips

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is a single key=value property from a manifest line.
type Pair struct {
	Key   string
	Value string
}

// Vals is an ordered multi-map of action properties. Every key inserted is
// tracked until a typed accessor reads it; CheckConsumed reports keys that
// nobody asked for.
type Vals struct {
	pairs  []Pair
	unread map[string]struct{}
}

// NewVals returns an empty property bag.
func NewVals() *Vals {
	return &Vals{unread: map[string]struct{}{}}
}

// Insert appends a property. facet.* properties are dropped.
func (v *Vals) Insert(key, value string) {
	if strings.HasPrefix(key, "facet.") {
		return
	}
	v.pairs = append(v.pairs, Pair{Key: key, Value: value})
	v.unread[key] = struct{}{}
}

// Pairs returns the properties in insertion order.
func (v *Vals) Pairs() []Pair {
	out := make([]Pair, len(v.pairs))
	copy(out, v.pairs)
	return out
}

// Len reports the number of stored properties.
func (v *Vals) Len() int {
	return len(v.pairs)
}

// MaybeSingle returns the only value for key, if any. More than one value is
// an error.
func (v *Vals) MaybeSingle(key string) (*string, error) {
	var out *string
	for _, p := range v.pairs {
		if p.Key != key {
			continue
		}
		if out != nil {
			return nil, fmt.Errorf("more than one value for %s, wanted a single value", key)
		}
		value := p.Value
		out = &value
	}
	delete(v.unread, key)
	return out, nil
}

// Single returns exactly one value for key.
func (v *Vals) Single(key string) (string, error) {
	out, err := v.MaybeSingle(key)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("no values for %s found", key)
	}
	return *out, nil
}

// MaybeList returns every value for key, possibly none.
func (v *Vals) MaybeList(key string) []string {
	var out []string
	for _, p := range v.pairs {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	delete(v.unread, key)
	return out
}

// List returns every value for key and requires at least one.
func (v *Vals) List(key string) ([]string, error) {
	out := v.MaybeList(key)
	if len(out) == 0 {
		return nil, fmt.Errorf("wanted at least one value for %s, found none", key)
	}
	return out, nil
}

// Unconsumed returns the sorted keys no accessor has read yet.
func (v *Vals) Unconsumed() []string {
	keys := make([]string, 0, len(v.unread))
	for k := range v.unread {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckConsumed fails if any property was present but never read.
func (v *Vals) CheckConsumed() error {
	if keys := v.Unconsumed(); len(keys) > 0 {
		return fmt.Errorf("some properties present but not consumed: %s", strings.Join(keys, ", "))
	}
	return nil
}
