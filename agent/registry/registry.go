// Package registry holds the immutable capability registry: the static set
// of capability descriptors, the agents wired to them, and the tool
// ownership index used by the supervisor's recovery path.
package registry

import (
	"fmt"
	"strings"

	contractx "github.com/pjordan/steward/agent/contract"
)

// Entry pairs a descriptor with the agent that implements it.
type Entry struct {
	Descriptor contractx.Descriptor
	Agent      contractx.Capability
}

// Registry is constructed once at startup and read-only afterwards. It is
// safe to share across sessions. Misconfiguration (duplicate ids, a tool
// owned twice, a descriptor with no agent, an unregistered default) fails
// at construction, never mid-turn.
type Registry struct {
	descriptors []contractx.Descriptor
	agents      map[string]contractx.Capability
	toolOwner   map[string]string
	defaultID   string
}

func New(defaultID string, entries []Entry) (*Registry, error) {
	defaultID = strings.TrimSpace(defaultID)
	if defaultID == "" {
		return nil, fmt.Errorf("%w: default capability id is required", contractx.ErrValidation)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one capability is required", contractx.ErrValidation)
	}

	r := &Registry{
		descriptors: make([]contractx.Descriptor, 0, len(entries)),
		agents:      make(map[string]contractx.Capability, len(entries)),
		toolOwner:   make(map[string]string),
		defaultID:   defaultID,
	}

	for _, e := range entries {
		id := strings.TrimSpace(e.Descriptor.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: capability id is empty", contractx.ErrValidation)
		}
		if id == contractx.RouteFinish {
			return nil, fmt.Errorf("%w: capability id %q collides with the finish sentinel", contractx.ErrValidation, id)
		}
		if _, dup := r.agents[id]; dup {
			return nil, fmt.Errorf("%w: duplicate capability id %q", contractx.ErrValidation, id)
		}
		if e.Agent == nil {
			return nil, fmt.Errorf("%w: capability %q has no agent", contractx.ErrValidation, id)
		}

		for _, tool := range e.Descriptor.Tools {
			tool = strings.TrimSpace(tool)
			if tool == "" {
				return nil, fmt.Errorf("%w: capability %q owns an unnamed tool", contractx.ErrValidation, id)
			}
			if owner, taken := r.toolOwner[tool]; taken {
				return nil, fmt.Errorf("%w: tool %q owned by both %q and %q", contractx.ErrValidation, tool, owner, id)
			}
			r.toolOwner[tool] = id
		}

		desc := e.Descriptor
		desc.ID = id
		r.descriptors = append(r.descriptors, desc)
		r.agents[id] = e.Agent
	}

	if _, ok := r.agents[defaultID]; !ok {
		return nil, fmt.Errorf("%w: default capability %q is not registered", contractx.ErrValidation, defaultID)
	}

	return r, nil
}

// Capability returns the agent registered under id.
func (r *Registry) Capability(id string) (contractx.Capability, bool) {
	agent, ok := r.agents[id]
	return agent, ok
}

// Has reports whether id is a registered capability.
func (r *Registry) Has(id string) bool {
	_, ok := r.agents[id]
	return ok
}

// OwnerOfTool resolves a tool name to the capability that owns it. Used by
// the supervisor when the model emits a tool call instead of a route.
func (r *Registry) OwnerOfTool(tool string) (string, bool) {
	owner, ok := r.toolOwner[strings.TrimSpace(tool)]
	return owner, ok
}

// Descriptors returns a copy of the registered descriptors, in
// registration order.
func (r *Registry) Descriptors() []contractx.Descriptor {
	out := make([]contractx.Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) DefaultID() string {
	return r.defaultID
}
