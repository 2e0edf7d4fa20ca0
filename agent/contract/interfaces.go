package contract

import "context"

// Capability is one specialized agent. Invoke receives a read-only view of
// the conversation history and returns zero or more trailing messages to
// append. Implementations must surface tool failures as ordinary messages,
// never as faults that escape the dispatch loop.
type Capability interface {
	Invoke(ctx context.Context, history []Message) ([]Message, error)
}

// Router selects the next capability to act, or RouteFinish. Decide must
// never fail on malformed model output; it recovers locally and returns an
// error only when the context is cancelled.
type Router interface {
	Decide(ctx context.Context, history []Message) (RouteDecision, error)
}
