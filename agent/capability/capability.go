// Package capability implements model-backed capability agents: a generic
// model-plus-tools loop used by most capabilities, and conversion helpers
// between conversation history and eino chat messages. The home-control
// capability, which is a sub-state machine rather than a plain loop, lives
// in the home subpackage.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/pjordan/steward/agent/contract"
	toolx "github.com/pjordan/steward/agent/tool"
)

const defaultMaxToolRounds = 3

// AgentConfig configures one generic capability agent.
type AgentConfig struct {
	ID           string
	Model        einomodel.ToolCallingChatModel
	SystemPrompt string
	Catalog      *toolx.Catalog
	// Tools is the capability's owned tool set; empty means a pure
	// conversational agent with no tool bindings.
	Tools         []string
	MaxToolRounds int
	Now           func() time.Time
}

// Agent is a single model-plus-tools capability. Tool failures surface as
// tool-result messages; only a model invocation failure returns an error,
// which the dispatch loop degrades and routes around.
type Agent struct {
	id            string
	runner        compose.Runnable[map[string]any, *schema.Message]
	catalog       *toolx.Catalog
	owned         map[string]struct{}
	maxToolRounds int
	now           func() time.Time
}

func NewAgent(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, errors.New("capability id is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("capability %s: chat model is required", id)
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, fmt.Errorf("capability %s: system prompt is required", id)
	}

	chatModel := einomodel.BaseChatModel(cfg.Model)
	owned := make(map[string]struct{}, len(cfg.Tools))
	if len(cfg.Tools) > 0 {
		if cfg.Catalog == nil {
			return nil, fmt.Errorf("capability %s: tool catalog is required", id)
		}
		for _, name := range cfg.Tools {
			if !cfg.Catalog.Has(name) {
				return nil, fmt.Errorf("capability %s: tool %q is not in the catalog", id, name)
			}
			owned[name] = struct{}{}
		}
		bound, err := cfg.Model.WithTools(cfg.Catalog.Infos(cfg.Tools))
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for capability %s: %v", contractx.ErrModelInvoke, id, err)
		}
		chatModel = bound
	}

	runner, err := CompileChatGraph(ctx, chatModel, cfg.SystemPrompt, "capability."+id)
	if err != nil {
		return nil, err
	}

	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Agent{
		id:            id,
		runner:        runner,
		catalog:       cfg.Catalog,
		owned:         owned,
		maxToolRounds: maxToolRounds,
		now:           now,
	}, nil
}

func (a *Agent) Invoke(ctx context.Context, history []contractx.Message) ([]contractx.Message, error) {
	msgs := ToSchemaMessages(history)
	var out []contractx.Message

	for round := 0; round <= a.maxToolRounds; round++ {
		resp, err := a.runner.Invoke(ctx, map[string]any{"history": msgs})
		if err != nil {
			return nil, fmt.Errorf("%w: capability %s invoke: %v", contractx.ErrModelInvoke, a.id, err)
		}
		if resp == nil {
			return nil, fmt.Errorf("%w: capability %s returned no message", contractx.ErrModelInvoke, a.id)
		}

		calls := FromSchemaToolCalls(resp.ToolCalls)
		out = append(out, contractx.NewAssistantMessage(a.id, resp.Content, a.now(), calls...))
		if len(calls) == 0 {
			break
		}
		if round == a.maxToolRounds {
			// Every recorded tool call must be paired with a result:
			// history with a dangling call is rejected by chat-completions
			// endpoints on every later invocation over the session.
			for _, call := range calls {
				res := contractx.ToolResult{
					CallID: call.ID,
					Name:   call.Name,
					Error:  fmt.Sprintf("tool round limit reached for capability %q, call not executed", a.id),
				}
				out = append(out, contractx.NewToolMessage(a.id, res, a.now()))
			}
			break
		}

		msgs = append(msgs, resp)
		for _, call := range calls {
			res := a.execute(ctx, call)
			out = append(out, contractx.NewToolMessage(a.id, res, a.now()))
			msgs = append(msgs, schema.ToolMessage(EncodeToolResult(res), call.ID))
		}
	}

	return out, nil
}

func (a *Agent) execute(ctx context.Context, call contractx.ToolCall) contractx.ToolResult {
	if _, ok := a.owned[call.Name]; !ok {
		return contractx.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("tool %q is not owned by capability %q", call.Name, a.id),
		}
	}
	return a.catalog.Execute(ctx, call)
}

// CompileChatGraph builds the shared prompt -> model graph every
// model-backed capability (and the home sub-graph's phases) runs on.
func CompileChatGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("history", false),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile %s graph: %w", graphName, err)
	}
	return runner, nil
}
