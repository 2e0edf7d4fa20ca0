// Package tool holds the tool catalog: every named operation a capability
// may invoke, its argument schema, and its handler. Arguments are
// validated at the boundary before any handler runs; failures come back as
// error tool results, never as faults.
package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/pjordan/steward/agent/contract"
)

// Handler executes one tool invocation with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec declares a tool: its name, model-facing description, and parameter
// schema (also used to bind the tool to the capability's chat model).
type Spec struct {
	Name   string
	Desc   string
	Params map[string]*schema.ParameterInfo
}

type registration struct {
	spec    Spec
	handler Handler
}

type Catalog struct {
	tools map[string]registration
}

func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]registration)}
}

func (c *Catalog) Register(spec Spec, handler Handler) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: tool %q has no handler", contractx.ErrValidation, name)
	}
	if _, dup := c.tools[name]; dup {
		return fmt.Errorf("%w: tool %q registered twice", contractx.ErrValidation, name)
	}
	spec.Name = name
	c.tools[name] = registration{spec: spec, handler: handler}
	return nil
}

func (c *Catalog) MustRegister(spec Spec, handler Handler) {
	if err := c.Register(spec, handler); err != nil {
		panic(err)
	}
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.tools[name]
	return ok
}

// Infos returns the eino tool descriptors for the named tools, for binding
// to a capability's chat model. Unknown names are skipped.
func (c *Catalog) Infos(names []string) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		reg, ok := c.tools[name]
		if !ok {
			continue
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        reg.spec.Name,
			Desc:        reg.spec.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(reg.spec.Params),
		})
	}
	return infos
}

// Execute runs one tool call. Every failure mode (unknown tool, missing
// required argument, handler error) is reported inside the ToolResult so
// the calling capability's model can explain it to the user.
func (c *Catalog) Execute(ctx context.Context, call contractx.ToolCall) contractx.ToolResult {
	result := contractx.ToolResult{CallID: call.ID, Name: call.Name}

	reg, ok := c.tools[call.Name]
	if !ok {
		result.Error = fmt.Sprintf("tool %q is not registered", call.Name)
		return result
	}

	if err := validateArgs(reg.spec, call.Args); err != nil {
		result.Error = err.Error()
		return result
	}

	out, err := reg.handler(ctx, call.Args)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Result = out
	return result
}

func validateArgs(spec Spec, args map[string]any) error {
	for name, p := range spec.Params {
		if p == nil || !p.Required {
			continue
		}
		v, present := args[name]
		if !present || v == nil {
			return fmt.Errorf("argument %q is required", name)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("argument %q is empty", name)
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
