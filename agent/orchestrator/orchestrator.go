// Package orchestrator drives the supervisor/dispatch loop for one user
// turn: load session state, route, invoke the selected capability through
// the guardrail middleware, append its output, and re-route until the
// supervisor emits FINISH or the dispatch ceiling is reached.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/pjordan/steward/agent/contract"
	guardx "github.com/pjordan/steward/agent/guard"
	registryx "github.com/pjordan/steward/agent/registry"
	statex "github.com/pjordan/steward/agent/state"
)

const defaultMaxDispatches = 6

const degradedReply = "I could not complete all requested actions. Please try again or rephrase the remaining request."

var (
	ErrInvalidSession = statex.ErrInvalidSession
	ErrInvalidMessage = errors.New("message is empty")
)

type Config struct {
	// MaxDispatches caps capability dispatches per user turn so a router
	// that never emits FINISH cannot loop forever.
	MaxDispatches int
}

type Orchestrator struct {
	store  statex.Store
	reg    *registryx.Registry
	router contractx.Router
	guard  *guardx.Middleware

	maxDispatches int
	now           func() time.Time

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

func New(
	store statex.Store,
	reg *registryx.Registry,
	router contractx.Router,
	guard *guardx.Middleware,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if reg == nil {
		return nil, errors.New("capability registry is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if guard == nil {
		guard = guardx.NewMiddleware()
	}

	maxDispatches := cfg.MaxDispatches
	if maxDispatches <= 0 {
		maxDispatches = defaultMaxDispatches
	}

	return &Orchestrator{
		store:         store,
		reg:           reg,
		router:        router,
		guard:         guard,
		maxDispatches: maxDispatches,
		now:           time.Now,
		turns:         make(map[string]*sync.Mutex),
	}, nil
}

// Submit processes one user message for a session and returns the messages
// appended during the turn (capability output plus any degraded reply).
// Turns for the same session are serialized; distinct sessions run
// concurrently.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, text string) ([]contractx.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	st, err := o.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.NextRoute = ""

	turnStart := len(st.History)
	st.Append(contractx.NewUserMessage(text, o.now()))

	finished := false
	for dispatches := 0; dispatches < o.maxDispatches; dispatches++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := o.router.Decide(ctx, st.History)
		if err != nil {
			return nil, err
		}
		st.NextRoute = decision.NextStep

		if decision.Finished() {
			finished = true
			break
		}

		agent, ok := o.reg.Capability(decision.NextStep)
		if !ok {
			// The bundled router validates against the registry; guard
			// foreign Router implementations the same way it recovers, by
			// falling back to the default conversational capability.
			log.Warn().
				Str("session_id", sessionID).
				Str("route", decision.NextStep).
				Err(contractx.ErrInvalidRoute).
				Msg("orchestrator: route not registered, using default capability")
			decision.NextStep = o.reg.DefaultID()
			st.NextRoute = decision.NextStep
			agent, _ = o.reg.Capability(decision.NextStep)
		}

		out, err := o.guard.Invoke(ctx, decision.NextStep, agent, st.History)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A failing capability is degraded, not fatal: record the
			// failure in history and let the supervisor route around it.
			log.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("capability", decision.NextStep).
				Msg("orchestrator: capability invocation failed")
			st.Append(contractx.NewSystemMessage(
				fmt.Sprintf("[SYSTEM] Capability %q failed and produced no output. Do not route there again this turn.", decision.NextStep),
				o.now(),
			))
			continue
		}

		st.Append(out...)
	}

	if !finished {
		log.Warn().
			Str("session_id", sessionID).
			Int("ceiling", o.maxDispatches).
			Err(contractx.ErrLoopCeiling).
			Msg("orchestrator: dispatch ceiling reached, forcing termination")
		st.Append(contractx.NewAssistantMessage("", degradedReply, o.now()))
	}

	st.Touch(o.now())
	if err := o.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}

	turn := make([]contractx.Message, len(st.History)-turnStart)
	copy(turn, st.History[turnStart:])
	return turn, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string) (*statex.ConversationState, error) {
	st, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return statex.NewConversationState(sessionID, o.now()), nil
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.turns[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.turns[sessionID] = lock
	}
	return lock
}
