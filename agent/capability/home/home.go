// Package home implements the home-control capability. Unlike the generic
// model-plus-tools loop, it is a small sequential state machine: a
// discovery phase enumerates controllable domains, a scouting phase maps
// the user's intent to concrete entities (with a brute-force fallback when
// the scout stalls), and an execution phase issues the control command.
package home

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	capabilityx "github.com/pjordan/steward/agent/capability"
	contractx "github.com/pjordan/steward/agent/contract"
	toolx "github.com/pjordan/steward/agent/tool"
)

const (
	nodeDiscover     = "discover"
	nodeScout        = "scout"
	nodeListTools    = "list_tools"
	nodeFallback     = "fallback"
	nodeOperate      = "operate"
	nodeControlTools = "control_tools"
)

// scoutPassToken is what the scout emits when the request carries no
// device-control intent at all; the capability then yields back to the
// supervisor without touching any device.
const scoutPassToken = "PASS"

// fallbackDomains are scanned when the scout neither calls a tool nor
// passes: light and switch cover the overwhelming share of control
// requests.
var fallbackDomains = []string{"light", "switch"}

type Config struct {
	ID             string
	ScoutModel     einomodel.ToolCallingChatModel
	OperatorModel  einomodel.ToolCallingChatModel
	ScoutPrompt    string
	OperatorPrompt string
	Catalog        *toolx.Catalog
	Now            func() time.Time
}

// Agent is the home-control capability.
type Agent struct {
	id      string
	catalog *toolx.Catalog
	runner  compose.Runnable[*graphState, *graphState]
	now     func() time.Time
}

type graphState struct {
	msgs []*schema.Message
	out  []contractx.Message

	scoutResp    *schema.Message
	operatorResp *schema.Message

	now func() time.Time
}

func New(ctx context.Context, cfg Config) (*Agent, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, errors.New("capability id is required")
	}
	if cfg.ScoutModel == nil || cfg.OperatorModel == nil {
		return nil, fmt.Errorf("capability %s: scout and operator models are required", id)
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("capability %s: tool catalog is required", id)
	}
	for _, name := range []string{toolx.ToolGetActiveDomains, toolx.ToolListEntitiesInDomain, toolx.ToolControlDevice} {
		if !cfg.Catalog.Has(name) {
			return nil, fmt.Errorf("capability %s: tool %q is not in the catalog", id, name)
		}
	}

	scoutModel, err := cfg.ScoutModel.WithTools(cfg.Catalog.Infos([]string{toolx.ToolListEntitiesInDomain}))
	if err != nil {
		return nil, fmt.Errorf("%w: bind scout tools: %v", contractx.ErrModelInvoke, err)
	}
	operatorModel, err := cfg.OperatorModel.WithTools(cfg.Catalog.Infos([]string{toolx.ToolControlDevice}))
	if err != nil {
		return nil, fmt.Errorf("%w: bind operator tools: %v", contractx.ErrModelInvoke, err)
	}

	scoutRunner, err := capabilityx.CompileChatGraph(ctx, scoutModel, cfg.ScoutPrompt, "home.scout_graph")
	if err != nil {
		return nil, err
	}
	operatorRunner, err := capabilityx.CompileChatGraph(ctx, operatorModel, cfg.OperatorPrompt, "home.operator_graph")
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	a := &Agent{
		id:      id,
		catalog: cfg.Catalog,
		now:     now,
	}
	runner, err := a.compileGraph(ctx, scoutRunner, operatorRunner)
	if err != nil {
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func (a *Agent) Invoke(ctx context.Context, history []contractx.Message) ([]contractx.Message, error) {
	st := &graphState{
		msgs: capabilityx.ToSchemaMessages(history),
		now:  a.now,
	}
	final, err := a.runner.Invoke(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("%w: capability %s invoke: %v", contractx.ErrModelInvoke, a.id, err)
	}
	return final.out, nil
}

func (a *Agent) compileGraph(
	ctx context.Context,
	scoutRunner compose.Runnable[map[string]any, *schema.Message],
	operatorRunner compose.Runnable[map[string]any, *schema.Message],
) (compose.Runnable[*graphState, *graphState], error) {
	graph := compose.NewGraph[*graphState, *graphState]()

	if err := graph.AddLambdaNode(nodeDiscover,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			a.runTool(ctx, st, contractx.ToolCall{
				ID:   uuid.NewString(),
				Name: toolx.ToolGetActiveDomains,
			})
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeDiscover, err)
	}

	if err := graph.AddLambdaNode(nodeScout,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			resp, err := scoutRunner.Invoke(ctx, map[string]any{"history": st.msgs})
			if err != nil {
				return nil, fmt.Errorf("%w: scout invoke: %v", contractx.ErrModelInvoke, err)
			}
			st.scoutResp = resp
			st.record(contractx.NewAssistantMessage(a.id, resp.Content, st.now(), capabilityx.FromSchemaToolCalls(resp.ToolCalls)...))
			st.msgs = append(st.msgs, resp)
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeScout, err)
	}

	if err := graph.AddLambdaNode(nodeListTools,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			for _, call := range capabilityx.FromSchemaToolCalls(st.scoutResp.ToolCalls) {
				a.executeCall(ctx, st, call)
			}
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeListTools, err)
	}

	if err := graph.AddLambdaNode(nodeFallback,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			// The scout stalled: enumerate the usual suspects so the
			// operator still has concrete entity ids to work with.
			for _, domain := range fallbackDomains {
				a.runTool(ctx, st, contractx.ToolCall{
					ID:   uuid.NewString(),
					Name: toolx.ToolListEntitiesInDomain,
					Args: map[string]any{"domain": domain},
				})
			}
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFallback, err)
	}

	if err := graph.AddLambdaNode(nodeOperate,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			resp, err := operatorRunner.Invoke(ctx, map[string]any{"history": st.msgs})
			if err != nil {
				return nil, fmt.Errorf("%w: operator invoke: %v", contractx.ErrModelInvoke, err)
			}
			st.operatorResp = resp
			st.record(contractx.NewAssistantMessage(a.id, resp.Content, st.now(), capabilityx.FromSchemaToolCalls(resp.ToolCalls)...))
			st.msgs = append(st.msgs, resp)
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeOperate, err)
	}

	if err := graph.AddLambdaNode(nodeControlTools,
		compose.InvokableLambda(func(ctx context.Context, st *graphState) (*graphState, error) {
			for _, call := range capabilityx.FromSchemaToolCalls(st.operatorResp.ToolCalls) {
				a.executeCall(ctx, st, call)
			}
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeControlTools, err)
	}

	scoutBranch := compose.NewGraphBranch(
		func(ctx context.Context, st *graphState) (string, error) {
			return routeScout(st.scoutResp), nil
		},
		map[string]bool{
			nodeListTools: true,
			nodeFallback:  true,
			compose.END:   true,
		},
	)
	operatorBranch := compose.NewGraphBranch(
		func(ctx context.Context, st *graphState) (string, error) {
			return routeOperator(st.operatorResp), nil
		},
		map[string]bool{
			nodeControlTools: true,
			compose.END:      true,
		},
	)

	if err := graph.AddEdge(compose.START, nodeDiscover); err != nil {
		return nil, fmt.Errorf("add edge start->%s: %w", nodeDiscover, err)
	}
	if err := graph.AddEdge(nodeDiscover, nodeScout); err != nil {
		return nil, fmt.Errorf("add edge %s->%s: %w", nodeDiscover, nodeScout, err)
	}
	if err := graph.AddBranch(nodeScout, scoutBranch); err != nil {
		return nil, fmt.Errorf("add scout branch: %w", err)
	}
	if err := graph.AddEdge(nodeListTools, nodeOperate); err != nil {
		return nil, fmt.Errorf("add edge %s->%s: %w", nodeListTools, nodeOperate, err)
	}
	if err := graph.AddEdge(nodeFallback, nodeOperate); err != nil {
		return nil, fmt.Errorf("add edge %s->%s: %w", nodeFallback, nodeOperate, err)
	}
	if err := graph.AddBranch(nodeOperate, operatorBranch); err != nil {
		return nil, fmt.Errorf("add operator branch: %w", err)
	}
	if err := graph.AddEdge(nodeControlTools, compose.END); err != nil {
		return nil, fmt.Errorf("add edge %s->end: %w", nodeControlTools, err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("home.control_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile home control graph: %w", err)
	}
	return runner, nil
}

// routeScout decides the phase after scouting: execute the requested
// listing, end early for purely conversational requests, or fall back to a
// brute-force scan.
func routeScout(resp *schema.Message) string {
	if resp == nil {
		return nodeFallback
	}
	if len(resp.ToolCalls) > 0 {
		return nodeListTools
	}
	if strings.Contains(strings.ToUpper(resp.Content), scoutPassToken) {
		return compose.END
	}
	return nodeFallback
}

func routeOperator(resp *schema.Message) string {
	if resp != nil && len(resp.ToolCalls) > 0 {
		return nodeControlTools
	}
	return compose.END
}

// runTool performs a phase-internal tool invocation, recording both the
// call and its result in the capability's output so every tool effect is
// visible in history.
func (a *Agent) runTool(ctx context.Context, st *graphState, call contractx.ToolCall) {
	st.record(contractx.NewAssistantMessage(a.id, "", st.now(), call))
	st.msgs = append(st.msgs, &schema.Message{
		Role:      schema.Assistant,
		ToolCalls: toSchemaCalls(call),
	})
	a.executeCall(ctx, st, call)
}

func (a *Agent) executeCall(ctx context.Context, st *graphState, call contractx.ToolCall) {
	res := a.catalog.Execute(ctx, call)
	st.record(contractx.NewToolMessage(a.id, res, st.now()))
	st.msgs = append(st.msgs, schema.ToolMessage(capabilityx.EncodeToolResult(res), call.ID))
}

func (st *graphState) record(msg contractx.Message) {
	st.out = append(st.out, msg)
}

func toSchemaCalls(calls ...contractx.ToolCall) []schema.ToolCall {
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
