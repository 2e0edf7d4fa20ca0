// Package router implements the supervisor: given the full conversation
// history, it decides which capability acts next or ends the turn. Every
// malformed or foreign model output is recovered locally; Decide never
// raises a routing failure to the dispatch loop.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/pjordan/steward/agent/contract"
	registryx "github.com/pjordan/steward/agent/registry"
)

// Completer is the single model call the supervisor makes per decision.
// Production wires an eino graph; tests substitute canned output.
type Completer interface {
	Complete(ctx context.Context, input string) (string, error)
}

type Router struct {
	completer Completer
	registry  *registryx.Registry
}

func New(completer Completer, reg *registryx.Registry) (*Router, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if reg == nil {
		return nil, errors.New("capability registry is required")
	}
	return &Router{completer: completer, registry: reg}, nil
}

// Decide inspects the full history (not just the latest message) so the
// model can detect unaddressed intents from multi-intent requests, and
// emits FINISH only when none remain. Recovery order for bad output:
// tool-call shape -> ownership lookup; anything else -> default capability.
func (r *Router) Decide(ctx context.Context, history []contractx.Message) (contractx.RouteDecision, error) {
	payload, err := decisionPayload(r.registry.Descriptors(), history)
	if err != nil {
		log.Warn().Err(err).Msg("router: building decision payload failed, using default capability")
		return r.fallback(), nil
	}

	raw, err := r.completer.Complete(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			return contractx.RouteDecision{}, ctx.Err()
		}
		log.Warn().Err(err).Msg("router: model call failed, using default capability")
		return r.fallback(), nil
	}

	return r.resolve(raw), nil
}

func (r *Router) resolve(raw string) contractx.RouteDecision {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		log.Warn().Err(err).Msg("router: unparseable decision, using default capability")
		return r.fallback()
	}

	if next, ok := obj["next_step"].(string); ok {
		next = strings.TrimSpace(next)
		if next == contractx.RouteFinish || r.registry.Has(next) {
			return contractx.RouteDecision{NextStep: next}
		}
		log.Warn().
			Str("next_step", next).
			Err(contractx.ErrInvalidRoute).
			Msg("router: unregistered capability, using default")
		return r.fallback()
	}

	// The model sometimes skips routing and emits a tool call directly.
	// Resolve the intended capability through the tool ownership index.
	if name, ok := toolCallName(obj); ok {
		if owner, found := r.registry.OwnerOfTool(name); found {
			log.Debug().
				Str("tool", name).
				Str("capability", owner).
				Msg("router: recovered route from tool call shape")
			return contractx.RouteDecision{NextStep: owner}
		}
		log.Warn().Str("tool", name).Msg("router: tool call has no owner, using default capability")
		return r.fallback()
	}

	log.Warn().Msg("router: decision lacks next_step, using default capability")
	return r.fallback()
}

func (r *Router) fallback() contractx.RouteDecision {
	return contractx.RouteDecision{NextStep: r.registry.DefaultID()}
}

func toolCallName(obj map[string]any) (string, bool) {
	for _, key := range []string{"name", "tool", "tool_name"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

type decisionCapability struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type decisionInput struct {
	Capabilities []decisionCapability `json:"capabilities"`
	Transcript   string               `json:"transcript"`
}

func decisionPayload(descriptors []contractx.Descriptor, history []contractx.Message) (string, error) {
	caps := make([]decisionCapability, 0, len(descriptors))
	for _, d := range descriptors {
		caps = append(caps, decisionCapability{ID: d.ID, Description: d.Description})
	}

	in := decisionInput{
		Capabilities: caps,
		Transcript:   Transcript(history),
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("%w: marshal decision input: %v", contractx.ErrValidation, err)
	}
	return string(raw), nil
}

// Transcript renders history as labelled lines for the decision prompt.
// Tool activity is kept visible so the supervisor can tell which intents a
// capability has already acted on.
func Transcript(history []contractx.Message) string {
	var b strings.Builder
	for _, m := range history {
		label := string(m.Role)
		if m.Sender != "" {
			label = fmt.Sprintf("%s(%s)", m.Role, m.Sender)
		}

		switch {
		case m.Role == contractx.RoleTool && m.ToolResult != nil:
			if m.ToolResult.Error != "" {
				fmt.Fprintf(&b, "%s: [tool %s failed: %s]\n", label, m.ToolResult.Name, m.ToolResult.Error)
			} else {
				fmt.Fprintf(&b, "%s: [tool %s -> %s]\n", label, m.ToolResult.Name, compactResult(m.ToolResult.Result))
			}
		case m.HasToolCalls():
			names := make([]string, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				names = append(names, c.Name)
			}
			fmt.Fprintf(&b, "%s: [calls tools: %s] %s\n", label, strings.Join(names, ", "), m.Content)
		default:
			fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func compactResult(result any) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return truncate(string(raw), 400)
}
