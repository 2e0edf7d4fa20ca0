// Package homeassistant is a minimal REST client for the Home Assistant
// API: entity states, service calls, and calendar events.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const maxResponseSizeBytes = 8 << 20

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("home assistant url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid home assistant url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("home assistant token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// EntityState is one entity's current state as reported by /api/states.
type EntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FriendlyName returns the human-facing name, falling back to the entity id.
func (e EntityState) FriendlyName() string {
	if name, ok := e.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return e.EntityID
}

func (e EntityState) Domain() string {
	if i := strings.Index(e.EntityID, "."); i > 0 {
		return e.EntityID[:i]
	}
	return ""
}

// States fetches all entity states.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	var states []EntityState
	if err := c.get(ctx, "/api/states", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// CallService invokes a service (e.g. light.turn_on) against an entity.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, params map[string]any) error {
	domain = strings.TrimSpace(domain)
	service = strings.TrimSpace(service)
	if domain == "" || service == "" {
		return errors.New("domain and service are required")
	}

	payload := map[string]any{"entity_id": entityID}
	for k, v := range params {
		payload[k] = v
	}

	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.post(ctx, path, payload, nil)
}

// CalendarEvent is one event from a Home Assistant calendar entity.
type CalendarEvent struct {
	Summary string         `json:"summary"`
	Start   map[string]any `json:"start"`
	End     map[string]any `json:"end"`
}

// CalendarEvents fetches events for one calendar entity in [start, end].
func (c *Client) CalendarEvents(ctx context.Context, calendarID string, start, end time.Time) ([]CalendarEvent, error) {
	if !strings.HasPrefix(calendarID, "calendar.") {
		return nil, fmt.Errorf("not a calendar entity: %q", calendarID)
	}
	query := url.Values{}
	query.Set("start", start.Format("2006-01-02T15:04:05"))
	query.Set("end", end.Format("2006-01-02T15:04:05"))

	var events []CalendarEvent
	if err := c.get(ctx, "/api/calendars/"+calendarID, query, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("home assistant status=%d body=%s", resp.StatusCode, truncate(string(raw), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
