package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/pjordan/steward/agent/contract"
	registryx "github.com/pjordan/steward/agent/registry"
)

type fakeCompleter struct {
	output string
	err    error
}

func (f *fakeCompleter) Complete(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.output, f.err
}

type nopCapability struct{}

func (nopCapability) Invoke(context.Context, []contractx.Message) ([]contractx.Message, error) {
	return nil, nil
}

func testRegistry(t *testing.T) *registryx.Registry {
	t.Helper()

	reg, err := registryx.New(contractx.CapabilityChat, []registryx.Entry{
		{
			Descriptor: contractx.Descriptor{
				ID:          contractx.CapabilityHome,
				Description: "device control",
				Tools:       []string{"control_device", "list_entities_in_domain"},
			},
			Agent: nopCapability{},
		},
		{
			Descriptor: contractx.Descriptor{
				ID:          contractx.CapabilityFinance,
				Description: "purchase history",
				Tools:       []string{"query_orders"},
			},
			Agent: nopCapability{},
		},
		{
			Descriptor: contractx.Descriptor{ID: contractx.CapabilityChat, Description: "small talk"},
			Agent:      nopCapability{},
		},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

func history() []contractx.Message {
	return []contractx.Message{
		contractx.NewUserMessage("turn off the desk lamp", time.Now()),
	}
}

func TestDecideValidRoute(t *testing.T) {
	t.Parallel()

	r, err := New(&fakeCompleter{output: `{"next_step": "home_agent"}`}, testRegistry(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.NextStep != contractx.CapabilityHome {
		t.Fatalf("unexpected route: %s", decision.NextStep)
	}
}

func TestDecideFinish(t *testing.T) {
	t.Parallel()

	r, _ := New(&fakeCompleter{output: `{"next_step": "FINISH"}`}, testRegistry(t))

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !decision.Finished() {
		t.Fatalf("expected finished decision, got %s", decision.NextStep)
	}
}

func TestDecideProseWrappedJSON(t *testing.T) {
	t.Parallel()

	r, _ := New(&fakeCompleter{
		output: "Sure! The user wants finance data.\n```json\n{\"next_step\": \"finance_agent\"}\n```",
	}, testRegistry(t))

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.NextStep != contractx.CapabilityFinance {
		t.Fatalf("unexpected route: %s", decision.NextStep)
	}
}

func TestDecideToolCallShapeRecoversOwner(t *testing.T) {
	t.Parallel()

	// The model skipped routing and emitted a tool call. The owner of
	// query_orders is the finance capability.
	r, _ := New(&fakeCompleter{
		output: `{"name": "query_orders", "args": {"sql_query": "SELECT 1"}}`,
	}, testRegistry(t))

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.NextStep != contractx.CapabilityFinance {
		t.Fatalf("unexpected route: %s", decision.NextStep)
	}
}

func TestDecideUnownedToolFallsBack(t *testing.T) {
	t.Parallel()

	r, _ := New(&fakeCompleter{output: `{"tool": "launch_rockets"}`}, testRegistry(t))

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.NextStep != contractx.CapabilityChat {
		t.Fatalf("expected default capability, got %s", decision.NextStep)
	}
}

func TestDecideGarbageFallsBack(t *testing.T) {
	t.Parallel()

	for _, output := range []string{
		"I'm not sure what to do here.",
		`{"next_step": "nonexistent_agent"}`,
		`{"step": 7}`,
	} {
		r, _ := New(&fakeCompleter{output: output}, testRegistry(t))
		decision, err := r.Decide(context.Background(), history())
		if err != nil {
			t.Fatalf("Decide(%q) error = %v", output, err)
		}
		if decision.NextStep != contractx.CapabilityChat {
			t.Fatalf("Decide(%q) route = %s, want default", output, decision.NextStep)
		}
	}
}

func TestDecideModelErrorFallsBack(t *testing.T) {
	t.Parallel()

	r, _ := New(&fakeCompleter{err: errors.New("upstream 503")}, testRegistry(t))

	decision, err := r.Decide(context.Background(), history())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.NextStep != contractx.CapabilityChat {
		t.Fatalf("expected default capability, got %s", decision.NextStep)
	}
}

func TestDecideContextCancellation(t *testing.T) {
	t.Parallel()

	r, _ := New(&fakeCompleter{output: `{"next_step": "FINISH"}`}, testRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Decide(ctx, history()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Decide() error = %v, want context.Canceled", err)
	}
}

func TestTranscriptRendersToolActivity(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msgs := []contractx.Message{
		contractx.NewUserMessage("turn off the lamp and tell me a joke", now),
		contractx.NewAssistantMessage(contractx.CapabilityHome, "", now, contractx.ToolCall{
			ID: "c1", Name: "control_device",
			Args: map[string]any{"entity_id": "light.lamp", "service": "turn_off"},
		}),
		contractx.NewToolMessage(contractx.CapabilityHome, contractx.ToolResult{
			CallID: "c1", Name: "control_device", Result: map[string]any{"status": "executed"},
		}, now),
	}

	transcript := Transcript(msgs)
	for _, want := range []string{
		"user: turn off the lamp",
		"[calls tools: control_device]",
		"[tool control_device ->",
	} {
		if !strings.Contains(transcript, want) {
			t.Fatalf("transcript missing %q:\n%s", want, transcript)
		}
	}
}
