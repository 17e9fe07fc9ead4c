package auth

import (
	"fmt"
	"sort"
)

// Capability is a named permission a bot may hold. The set is closed:
// anything outside it is rejected at construction time.
type Capability string

const (
	CapRead           Capability = "read"
	CapCreateProjects Capability = "create_projects"
	CapCreateTasks    Capability = "create_tasks"
	CapUpdateTasks    Capability = "update_tasks"
	CapDeleteTasks    Capability = "delete_tasks"
	CapAdmin          Capability = "admin"
)

var allCapabilities = map[Capability]bool{
	CapRead:           true,
	CapCreateProjects: true,
	CapCreateTasks:    true,
	CapUpdateTasks:    true,
	CapDeleteTasks:    true,
	CapAdmin:          true,
}

// ParseCapability validates a raw permission string.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !allCapabilities[c] {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// CapabilitySet is the typed permission set stored per bot.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet parses raw permission strings into a set.
func NewCapabilitySet(raw []string) (CapabilitySet, error) {
	set := CapabilitySet{}
	for _, s := range raw {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Strings returns the set as a sorted slice for storage and wire output.
func (s CapabilitySet) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
