package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/pjordan/steward/agent/contract"
	guardx "github.com/pjordan/steward/agent/guard"
	registryx "github.com/pjordan/steward/agent/registry"
	statex "github.com/pjordan/steward/agent/state"
)

// scriptedRouter replays a fixed sequence of routing decisions.
type scriptedRouter struct {
	routes []string
	err    error
	idx    int
}

func (r *scriptedRouter) Decide(ctx context.Context, history []contractx.Message) (contractx.RouteDecision, error) {
	if r.err != nil {
		return contractx.RouteDecision{}, r.err
	}
	if r.idx >= len(r.routes) {
		return contractx.RouteDecision{NextStep: contractx.RouteFinish}, nil
	}
	next := r.routes[r.idx]
	r.idx++
	return contractx.RouteDecision{NextStep: next}, nil
}

// echoCapability emits one assistant message per invocation.
type echoCapability struct {
	id    string
	reply string
	err   error
	calls int
}

func (c *echoCapability) Invoke(ctx context.Context, history []contractx.Message) ([]contractx.Message, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []contractx.Message{
		contractx.NewAssistantMessage(c.id, c.reply, time.Now()),
	}, nil
}

func testSetup(t *testing.T, router contractx.Router, capabilities ...*echoCapability) (*Orchestrator, statex.Store) {
	t.Helper()

	entries := make([]registryx.Entry, 0, len(capabilities))
	for _, c := range capabilities {
		entries = append(entries, registryx.Entry{
			Descriptor: contractx.Descriptor{ID: c.id, Description: c.id},
			Agent:      c,
		})
	}

	reg, err := registryx.New(capabilities[len(capabilities)-1].id, entries)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	store := statex.NewMemoryStore()
	orch, err := New(store, reg, router, guardx.NewMiddleware(), Config{MaxDispatches: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return orch, store
}

func TestSubmitSingleIntent(t *testing.T) {
	t.Parallel()

	home := &echoCapability{id: contractx.CapabilityHome, reply: "The lamp request is handled."}
	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	orch, store := testSetup(t, &scriptedRouter{routes: []string{contractx.CapabilityHome, contractx.RouteFinish}}, home, chat)

	turn, err := orch.Submit(context.Background(), "s1", "turn off the lamp")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if len(turn) != 2 {
		t.Fatalf("turn has %d messages, want 2 (user + capability)", len(turn))
	}
	if turn[0].Role != contractx.RoleUser {
		t.Fatalf("first turn message role = %s, want user", turn[0].Role)
	}
	if turn[1].Sender != contractx.CapabilityHome {
		t.Fatalf("capability sender = %s", turn[1].Sender)
	}
	if chat.calls != 0 {
		t.Fatalf("default capability invoked %d times, want 0", chat.calls)
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.History) != 2 {
		t.Fatalf("persisted history has %d messages, want 2", len(st.History))
	}
}

func TestSubmitMultiIntentDispatchesSequentially(t *testing.T) {
	t.Parallel()

	home := &echoCapability{id: contractx.CapabilityHome, reply: "Device handled."}
	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Here is a joke."}
	router := &scriptedRouter{routes: []string{
		contractx.CapabilityHome, contractx.CapabilityChat, contractx.RouteFinish,
	}}
	orch, _ := testSetup(t, router, home, chat)

	turn, err := orch.Submit(context.Background(), "s1", "turn off the lamp and tell me a joke")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if home.calls != 1 || chat.calls != 1 {
		t.Fatalf("capability calls = (%d, %d), want (1, 1)", home.calls, chat.calls)
	}
	if len(turn) != 3 {
		t.Fatalf("turn has %d messages, want 3", len(turn))
	}
	if turn[1].Sender != contractx.CapabilityHome || turn[2].Sender != contractx.CapabilityChat {
		t.Fatalf("dispatch order wrong: %s then %s", turn[1].Sender, turn[2].Sender)
	}
}

func TestSubmitCeilingForcesDegradedReply(t *testing.T) {
	t.Parallel()

	home := &echoCapability{id: contractx.CapabilityHome, reply: "Still working on it."}
	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	// The router never emits FINISH.
	router := &scriptedRouter{routes: []string{
		contractx.CapabilityHome, contractx.CapabilityHome, contractx.CapabilityHome,
		contractx.CapabilityHome, contractx.CapabilityHome, contractx.CapabilityHome,
	}}
	orch, _ := testSetup(t, router, home, chat)

	turn, err := orch.Submit(context.Background(), "s1", "do everything")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if home.calls != 4 {
		t.Fatalf("capability invoked %d times, want 4 (the ceiling)", home.calls)
	}
	last := turn[len(turn)-1]
	if last.Role != contractx.RoleAssistant || !strings.Contains(last.Content, "could not complete") {
		t.Fatalf("expected degraded reply, got %+v", last)
	}
}

func TestSubmitCapabilityFailureIsDegraded(t *testing.T) {
	t.Parallel()

	home := &echoCapability{id: contractx.CapabilityHome, err: errors.New("model down")}
	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	router := &scriptedRouter{routes: []string{contractx.CapabilityHome, contractx.RouteFinish}}
	orch, store := testSetup(t, router, home, chat)

	turn, err := orch.Submit(context.Background(), "s1", "turn off the lamp")
	if err != nil {
		t.Fatalf("Submit() error = %v, want degraded turn", err)
	}

	var failureNote bool
	for _, msg := range turn {
		if msg.Role == contractx.RoleSystem && strings.Contains(msg.Content, "failed") {
			failureNote = true
		}
	}
	if !failureNote {
		t.Fatalf("expected a system failure note in the turn: %+v", turn)
	}

	// The failed turn is still persisted.
	if _, err := store.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestSubmitRouterErrorPropagates(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	wantErr := errors.New("router exploded")
	orch, _ := testSetup(t, &scriptedRouter{err: wantErr}, chat)

	if _, err := orch.Submit(context.Background(), "s1", "hello"); !errors.Is(err, wantErr) {
		t.Fatalf("Submit() error = %v, want %v", err, wantErr)
	}
}

func TestSubmitValidatesInputs(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	orch, _ := testSetup(t, &scriptedRouter{}, chat)

	if _, err := orch.Submit(context.Background(), "  ", "hello"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("empty session error = %v, want ErrInvalidSession", err)
	}
	if _, err := orch.Submit(context.Background(), "s1", "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("empty message error = %v, want ErrInvalidMessage", err)
	}
}

func TestSubmitHistoryAccumulatesAcrossTurns(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Sure."}
	router := &scriptedRouter{routes: []string{
		contractx.CapabilityChat, contractx.RouteFinish,
		contractx.CapabilityChat, contractx.RouteFinish,
	}}
	orch, store := testSetup(t, router, chat)

	for _, text := range []string{"hello", "another one"} {
		if _, err := orch.Submit(context.Background(), "s1", text); err != nil {
			t.Fatalf("Submit(%q) error = %v", text, err)
		}
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.History) != 4 {
		t.Fatalf("history has %d messages after two turns, want 4", len(st.History))
	}
	if st.History[0].Content != "hello" || st.History[2].Content != "another one" {
		t.Fatalf("history order wrong: %+v", st.History)
	}
}

// turnRouter routes every user message to one capability and finishes
// once that capability has replied. Unlike scriptedRouter it carries no
// state, so it is safe under concurrent Submit calls.
type turnRouter struct {
	target string
}

func (r turnRouter) Decide(ctx context.Context, history []contractx.Message) (contractx.RouteDecision, error) {
	if len(history) > 0 && history[len(history)-1].Role == contractx.RoleUser {
		return contractx.RouteDecision{NextStep: r.target}, nil
	}
	return contractx.RouteDecision{NextStep: contractx.RouteFinish}, nil
}

// gateCapability blocks its first invocation until released and echoes the
// latest user message.
type gateCapability struct {
	id      string
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	invoked int
}

func newGateCapability(id string) *gateCapability {
	return &gateCapability{
		id:      id,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gateCapability) Invoke(ctx context.Context, history []contractx.Message) ([]contractx.Message, error) {
	c.mu.Lock()
	first := c.invoked == 0
	c.invoked++
	c.mu.Unlock()
	if first {
		close(c.entered)
		<-c.release
	}

	var text string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == contractx.RoleUser {
			text = history[i].Content
			break
		}
	}
	return []contractx.Message{
		contractx.NewAssistantMessage(c.id, "echo: "+text, time.Now()),
	}, nil
}

func gateSetup(t *testing.T, gate *gateCapability) (*Orchestrator, statex.Store) {
	t.Helper()

	reg, err := registryx.New(gate.id, []registryx.Entry{{
		Descriptor: contractx.Descriptor{ID: gate.id, Description: gate.id},
		Agent:      gate,
	}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	store := statex.NewMemoryStore()
	orch, err := New(store, reg, turnRouter{target: gate.id}, guardx.NewMiddleware(), Config{MaxDispatches: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return orch, store
}

func TestSubmitSerializesSameSession(t *testing.T) {
	t.Parallel()

	gate := newGateCapability(contractx.CapabilityChat)
	orch, store := gateSetup(t, gate)

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Submit(context.Background(), "s1", "first")
		firstDone <- err
	}()
	<-gate.entered

	secondDone := make(chan error, 1)
	go func() {
		_, err := orch.Submit(context.Background(), "s1", "second")
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second turn completed while the first held the session (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.History) != 4 {
		t.Fatalf("history has %d messages, want 4 (two complete turns)", len(st.History))
	}
	// Turns never interleave: each user message is immediately followed by
	// its reply.
	if st.History[0].Content != "first" || st.History[1].Content != "echo: first" ||
		st.History[2].Content != "second" || st.History[3].Content != "echo: second" {
		t.Fatalf("turns interleaved: %+v", st.History)
	}
}

func TestSubmitDistinctSessionsRunConcurrently(t *testing.T) {
	t.Parallel()

	gate := newGateCapability(contractx.CapabilityChat)
	orch, _ := gateSetup(t, gate)

	blockedDone := make(chan error, 1)
	go func() {
		_, err := orch.Submit(context.Background(), "s-blocked", "first")
		blockedDone <- err
	}()
	<-gate.entered

	// A different session is not held up by the blocked one; if it were,
	// this call would hang until the test timeout.
	if _, err := orch.Submit(context.Background(), "s-free", "hello"); err != nil {
		t.Fatalf("Submit(s-free) error = %v", err)
	}

	close(gate.release)
	if err := <-blockedDone; err != nil {
		t.Fatalf("Submit(s-blocked) error = %v", err)
	}
}

func TestSubmitUnregisteredRouteFallsBackToDefault(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	router := &scriptedRouter{routes: []string{"ghost_agent", contractx.RouteFinish}}
	orch, store := testSetup(t, router, chat)

	turn, err := orch.Submit(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("default capability invoked %d times, want 1", chat.calls)
	}
	if len(turn) != 2 || turn[1].Sender != contractx.CapabilityChat {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	// The recovered turn is persisted.
	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.History) != 2 {
		t.Fatalf("persisted history has %d messages, want 2", len(st.History))
	}
}

// failingStore delegates loads and fails every save.
type failingStore struct {
	statex.Store
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, st *statex.ConversationState) error {
	return s.saveErr
}

func TestSubmitStoreSaveFailureIsFatal(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	reg, err := registryx.New(chat.id, []registryx.Entry{{
		Descriptor: contractx.Descriptor{ID: chat.id, Description: chat.id},
		Agent:      chat,
	}})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	wantErr := errors.New("redis down")
	store := &failingStore{Store: statex.NewMemoryStore(), saveErr: wantErr}
	orch, err := New(store, reg, &scriptedRouter{routes: []string{chat.id, contractx.RouteFinish}}, guardx.NewMiddleware(), Config{MaxDispatches: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := orch.Submit(context.Background(), "s1", "hello"); !errors.Is(err, wantErr) {
		t.Fatalf("Submit() error = %v, want %v", err, wantErr)
	}
}

func TestSubmitContextCancellation(t *testing.T) {
	t.Parallel()

	chat := &echoCapability{id: contractx.CapabilityChat, reply: "Hi."}
	orch, _ := testSetup(t, &scriptedRouter{routes: []string{contractx.CapabilityChat}}, chat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := orch.Submit(ctx, "s1", "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() error = %v, want context.Canceled", err)
	}
}
