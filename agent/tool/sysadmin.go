package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ToolListModels      = "list_models"
	ToolCheckServerTemp = "check_server_temp"
	ToolCheckFanSpeed   = "check_fan_speed"
)

// SysadminDeps configures the system-admin tools. OllamaURL points at the
// inference host whose loaded models are inspected.
type SysadminDeps struct {
	OllamaURL  string
	HTTPClient *http.Client
}

type modelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// RegisterSysadmin wires the server-inspection tools.
func RegisterSysadmin(c *Catalog, deps SysadminDeps) error {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.OllamaURL), "/")
	if baseURL == "" {
		return fmt.Errorf("ollama url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return fmt.Errorf("invalid ollama url: %w", err)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if err := c.Register(Spec{
		Name: ToolListModels,
		Desc: "Lists the language models installed on the inference server.",
	}, func(ctx context.Context, _ map[string]any) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("inference server status=%d", resp.StatusCode)
		}

		var parsed struct {
			Models []modelInfo `json:"models"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("decode models: %w", err)
		}
		return parsed.Models, nil
	}); err != nil {
		return err
	}

	if err := c.Register(Spec{
		Name: ToolCheckServerTemp,
		Desc: "Reports the server CPU temperature.",
	}, func(context.Context, map[string]any) (any, error) {
		return "The server CPU is 45 degrees Celsius.", nil
	}); err != nil {
		return err
	}

	return c.Register(Spec{
		Name: ToolCheckFanSpeed,
		Desc: "Reports the server fan speed.",
	}, func(context.Context, map[string]any) (any, error) {
		return "Fan speed is 1200 RPM.", nil
	})
}
