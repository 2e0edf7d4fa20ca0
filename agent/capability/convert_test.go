package capability

import (
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/pjordan/steward/agent/contract"
)

func TestToSchemaMessages(t *testing.T) {
	t.Parallel()

	now := time.Now()
	history := []contractx.Message{
		contractx.NewSystemMessage("[SYSTEM CONTEXT] 9am", now),
		contractx.NewUserMessage("turn off the lamp", now),
		contractx.NewAssistantMessage(contractx.CapabilityHome, "", now, contractx.ToolCall{
			ID: "c1", Name: "control_device",
			Args: map[string]any{"entity_id": "light.lamp", "service": "turn_off"},
		}),
		contractx.NewToolMessage(contractx.CapabilityHome, contractx.ToolResult{
			CallID: "c1", Name: "control_device", Result: map[string]any{"status": "executed"},
		}, now),
	}

	msgs := ToSchemaMessages(history)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected leading roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	assistant := msgs[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "control_device" {
		t.Fatalf("tool calls not converted: %+v", assistant.ToolCalls)
	}
	if !strings.Contains(assistant.ToolCalls[0].Function.Arguments, `"light.lamp"`) {
		t.Fatalf("arguments not encoded: %s", assistant.ToolCalls[0].Function.Arguments)
	}

	toolMsg := msgs[3]
	if toolMsg.Role != schema.Tool || toolMsg.ToolCallID != "c1" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, `"executed"`) {
		t.Fatalf("tool result payload missing: %s", toolMsg.Content)
	}
}

func TestToSchemaMessagesSkipsEmptyToolResult(t *testing.T) {
	t.Parallel()

	history := []contractx.Message{
		{Role: contractx.RoleTool}, // corrupt entry without a result
		contractx.NewUserMessage("hi", time.Now()),
	}
	if got := len(ToSchemaMessages(history)); got != 1 {
		t.Fatalf("got %d messages, want 1", got)
	}
}

func TestFromSchemaToolCalls(t *testing.T) {
	t.Parallel()

	calls := FromSchemaToolCalls([]schema.ToolCall{
		{
			ID: "c1",
			Function: schema.FunctionCall{
				Name:      "query_orders",
				Arguments: `{"sql_query": "SELECT 1"}`,
			},
		},
		{
			ID: "c2",
			Function: schema.FunctionCall{
				Name:      "broken",
				Arguments: `{not json`,
			},
		},
	})

	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Args["sql_query"] != "SELECT 1" {
		t.Fatalf("arguments not decoded: %+v", calls[0].Args)
	}
	// A call with undecodable arguments survives with empty args so that
	// ownership checks still see it.
	if calls[1].Name != "broken" || len(calls[1].Args) != 0 {
		t.Fatalf("broken call mishandled: %+v", calls[1])
	}
}

func TestEncodeToolResult(t *testing.T) {
	t.Parallel()

	ok := EncodeToolResult(contractx.ToolResult{
		CallID: "c1", Name: "echo", Result: []string{"a", "b"},
	})
	if ok != `["a","b"]` {
		t.Fatalf("EncodeToolResult() = %s", ok)
	}

	failed := EncodeToolResult(contractx.ToolResult{
		CallID: "c1", Name: "echo", Error: "no such device",
	})
	if !strings.Contains(failed, `"error"`) || !strings.Contains(failed, "no such device") {
		t.Fatalf("EncodeToolResult() = %s", failed)
	}
}
