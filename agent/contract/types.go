package contract

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message in the conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// RouteFinish is the terminal routing sentinel: the supervisor has decided
// that every intent in the current turn has been addressed.
const RouteFinish = "FINISH"

// Well-known capability ids. The registry accepts arbitrary ids; these are
// the ones the stock deployment registers.
const (
	CapabilityHome      = "home_agent"
	CapabilityResearch  = "research_agent"
	CapabilityFinance   = "finance_agent"
	CapabilityScheduler = "scheduler_agent"
	CapabilitySysadmin  = "system_admin"
	CapabilityChat      = "general_chat"
)

// ToolCall is a capability's request to invoke one of its owned tools.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall. A failed execution
// carries Error instead of Result; it is still an ordinary history entry.
type ToolResult struct {
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Message is one entry in a conversation history. History is append-only:
// the core never deletes or reorders entries.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Sender     string      `json:"sender,omitempty"` // capability id, empty for user/system
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

func NewUserMessage(content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}

func NewSystemMessage(content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}

func NewAssistantMessage(sender, content string, now time.Time, calls ...ToolCall) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Sender:    sender,
		Content:   content,
		ToolCalls: calls,
		CreatedAt: now.UTC(),
	}
}

func NewToolMessage(sender string, result ToolResult, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Sender:     sender,
		ToolResult: &result,
		CreatedAt:  now.UTC(),
	}
}

// Descriptor is the static registration record for one capability.
// The full set of descriptors forms the capability registry.
type Descriptor struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
}

// RouteDecision is the supervisor's structured output: the id of the next
// capability to dispatch, or RouteFinish.
type RouteDecision struct {
	NextStep string `json:"next_step"`
}

func (d RouteDecision) Finished() bool {
	return d.NextStep == RouteFinish
}
