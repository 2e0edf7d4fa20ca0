package router

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/pjordan/steward/agent/contract"
)

// ModelCompleter backs the supervisor with a chat model. The model should
// run at low temperature; the decision prompt instructs it to emit strict
// {"next_step": ...} output.
type ModelCompleter struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

func NewModelCompleter(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (*ModelCompleter, error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add router prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add router model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add router edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add router edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add router edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("router.decision_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile router graph: %w", err)
	}

	return &ModelCompleter{runner: runner}, nil
}

func (c *ModelCompleter) Complete(ctx context.Context, input string) (string, error) {
	msg, err := c.runner.Invoke(ctx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("%w: router invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: empty router response", contractx.ErrModelInvoke)
	}
	return msg.Content, nil
}
