package capability

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/pjordan/steward/agent/contract"
)

// ToSchemaMessages converts conversation history into eino chat messages.
func ToSchemaMessages(history []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case contractx.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case contractx.RoleAssistant:
			out = append(out, &schema.Message{
				Role:      schema.Assistant,
				Content:   m.Content,
				ToolCalls: toSchemaToolCalls(m.ToolCalls),
			})
		case contractx.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, schema.ToolMessage(EncodeToolResult(*m.ToolResult), m.ToolResult.CallID))
		}
	}
	return out
}

func toSchemaToolCalls(calls []contractx.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := "{}"
		if len(c.Args) > 0 {
			if raw, err := json.Marshal(c.Args); err == nil {
				args = string(raw)
			}
		}
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Name,
				Arguments: args,
			},
		})
	}
	return out
}

// FromSchemaToolCalls converts model-emitted tool calls into contract tool
// calls, decoding the JSON argument payload. A call with undecodable
// arguments is returned with empty args rather than dropped, so ownership
// checks and error reporting still see it.
func FromSchemaToolCalls(calls []schema.ToolCall) []contractx.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := map[string]any{}
		if raw := c.Function.Arguments; raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		out = append(out, contractx.ToolCall{
			ID:   c.ID,
			Name: c.Function.Name,
			Args: args,
		})
	}
	return out
}

// EncodeToolResult renders a tool result as the JSON payload the model
// reads back.
func EncodeToolResult(res contractx.ToolResult) string {
	if res.Error != "" {
		return fmt.Sprintf(`{"error":%q}`, res.Error)
	}
	raw, err := json.Marshal(res.Result)
	if err != nil {
		return fmt.Sprintf(`{"error":"unencodable result: %v"}`, err)
	}
	return string(raw)
}
