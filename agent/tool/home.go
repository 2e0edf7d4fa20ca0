package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	hax "github.com/pjordan/steward/pkg/homeassistant"
)

const (
	ToolGetActiveDomains     = "get_active_domains"
	ToolListEntitiesInDomain = "list_entities_in_domain"
	ToolControlDevice        = "control_device"
)

// Domains never surfaced for control: they are automations or metadata,
// not physical devices.
var hiddenDomains = map[string]bool{
	"automation": true,
	"script":     true,
	"update":     true,
	"zone":       true,
	"person":     true,
	"scene":      true,
}

type entitySummary struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RegisterHome wires the home-control tools against a Home Assistant client.
func RegisterHome(c *Catalog, ha *hax.Client) error {
	if ha == nil {
		return fmt.Errorf("home assistant client is required")
	}

	if err := c.Register(Spec{
		Name: ToolGetActiveDomains,
		Desc: "Returns the list of active Home Assistant domains (e.g. ['light', 'switch', 'sensor']).",
	}, func(ctx context.Context, _ map[string]any) (any, error) {
		states, err := ha.States(ctx)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, s := range states {
			if unavailable(s.State) {
				continue
			}
			d := s.Domain()
			if d == "" || hiddenDomains[d] {
				continue
			}
			seen[d] = true
		}
		domains := make([]string, 0, len(seen))
		for d := range seen {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		return domains, nil
	}); err != nil {
		return err
	}

	if err := c.Register(Spec{
		Name: ToolListEntitiesInDomain,
		Desc: "Lists all active entities within a specific domain.",
		Params: map[string]*schema.ParameterInfo{
			"domain": {Type: schema.String, Desc: "Domain to list, e.g. 'light'", Required: true},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return listEntities(ctx, ha, stringArg(args, "domain"))
	}); err != nil {
		return err
	}

	return c.Register(Spec{
		Name: ToolControlDevice,
		Desc: "Sends a command to a device. The entity_id must come from a prior listing; never guess ids.",
		Params: map[string]*schema.ParameterInfo{
			"entity_id":  {Type: schema.String, Desc: "Exact entity id, e.g. 'light.hallway'", Required: true},
			"service":    {Type: schema.String, Desc: "Service to call, e.g. 'turn_on', 'turn_off'", Required: true},
			"parameters": {Type: schema.Object, Desc: "Optional service parameters, e.g. {\"brightness_pct\": 50}"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		entityID := stringArg(args, "entity_id")
		if !strings.Contains(entityID, ".") {
			return nil, fmt.Errorf("invalid entity_id format: %q", entityID)
		}
		domain := entityID[:strings.Index(entityID, ".")]

		params, _ := args["parameters"].(map[string]any)
		if err := ha.CallService(ctx, domain, stringArg(args, "service"), entityID, params); err != nil {
			return nil, err
		}
		return map[string]any{
			"entity_id": entityID,
			"service":   stringArg(args, "service"),
			"status":    "executed",
		}, nil
	})
}

func listEntities(ctx context.Context, ha *hax.Client, domain string) ([]entitySummary, error) {
	states, err := ha.States(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]entitySummary, 0, 16)
	for _, s := range states {
		if s.Domain() != domain || unavailable(s.State) {
			continue
		}
		matches = append(matches, entitySummary{
			ID:         s.EntityID,
			Name:       s.FriendlyName(),
			State:      s.State,
			Attributes: s.Attributes,
		})
	}
	return matches, nil
}

func unavailable(state string) bool {
	switch strings.ToLower(state) {
	case "unavailable", "unknown":
		return true
	}
	return false
}
