// Package guard wraps capability invocations with pre-call context
// injection and post-call validation. It is a cross-cutting decorator:
// capabilities never know it exists.
package guard

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	contractx "github.com/pjordan/steward/agent/contract"
)

const defaultMaxRetries = 2

const operationalConstraints = `[OPERATIONAL GUARDRAILS]
1. LANGUAGE: English ONLY.
2. OUTPUT: When using tools, parse the JSON output strictly.
3. PROTOCOL: Act only through tool calls. Never narrate an action you did not execute.`

// Validator inspects a capability's final message and, when it violates
// policy, returns the corrective content to substitute. Validators are
// pluggable so the lexicon heuristics can be swapped for stricter
// structured-output enforcement without touching the dispatch loop.
type Validator interface {
	Check(msg contractx.Message) (correction string, violated bool)
}

// Option customizes Middleware.
type Option func(*Middleware)

func WithValidators(validators ...Validator) Option {
	return func(m *Middleware) {
		m.validators = validators
	}
}

func WithMaxRetries(n int) Option {
	return func(m *Middleware) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		if now != nil {
			m.now = now
		}
	}
}

// Middleware enforces the guardrail policy around any capability.
type Middleware struct {
	validators []Validator
	maxRetries int
	now        func() time.Time
}

func NewMiddleware(opts ...Option) *Middleware {
	m := &Middleware{
		validators: []Validator{
			NewActionClaimValidator(),
			NewForeignTextValidator(),
		},
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Invoke runs capability c against history with guardrails applied.
//
// Pre-call, a system message carrying the wall-clock time and operating
// constraints is appended to the view handed to the capability. The
// message is scoped to this invocation: it is never part of the returned
// output, so it cannot accumulate in persisted history across turns.
//
// Post-call, the capability's final message is validated. A message that
// claims an action in free text without a tool call (or that is off-policy
// language) triggers a bounded retry with a corrective instruction; once
// retries are exhausted the offending message is replaced by the
// correction and the corrected output is returned.
func (m *Middleware) Invoke(
	ctx context.Context,
	capabilityID string,
	c contractx.Capability,
	history []contractx.Message,
) ([]contractx.Message, error) {
	view := make([]contractx.Message, 0, len(history)+1)
	view = append(view, history...)
	view = append(view, m.contextMessage())

	for attempt := 0; ; attempt++ {
		out, err := c.Invoke(ctx, view)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return out, nil
		}

		last := out[len(out)-1]
		correction, violated := m.firstViolation(last)
		if !violated {
			return out, nil
		}

		corrective := contractx.NewSystemMessage(correction, m.now())
		log.Warn().
			Str("capability", capabilityID).
			Int("attempt", attempt+1).
			Str("content", truncate(last.Content, 80)).
			Msg("guard: rejected capability output")

		if attempt >= m.maxRetries {
			out[len(out)-1] = corrective
			return out, nil
		}

		// Retry the capability with everything it produced so far plus the
		// corrective instruction.
		view = append(view, out...)
		view = append(view, corrective)
	}
}

// Wrap returns c decorated with this middleware, for callers that want a
// plain contract.Capability.
func (m *Middleware) Wrap(capabilityID string, c contractx.Capability) contractx.Capability {
	return guarded{mw: m, id: capabilityID, inner: c}
}

type guarded struct {
	mw    *Middleware
	id    string
	inner contractx.Capability
}

func (g guarded) Invoke(ctx context.Context, history []contractx.Message) ([]contractx.Message, error) {
	return g.mw.Invoke(ctx, g.id, g.inner, history)
}

func (m *Middleware) contextMessage() contractx.Message {
	now := m.now()
	stamp := now.Format("Monday, January 2, 2006 at 3:04 PM")
	content := fmt.Sprintf("[SYSTEM CONTEXT]\nCurrent System Time: %s\n\n%s", stamp, operationalConstraints)
	return contractx.NewSystemMessage(content, now)
}

func (m *Middleware) firstViolation(msg contractx.Message) (string, bool) {
	// Tool messages and routing artifacts are never validated; the policy
	// targets assistant free text.
	if msg.Role != contractx.RoleAssistant {
		return "", false
	}
	for _, v := range m.validators {
		if correction, violated := v.Check(msg); violated {
			return correction, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
