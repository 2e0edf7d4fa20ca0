package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/uptrace/bun"

	hax "github.com/pjordan/steward/pkg/homeassistant"
)

const (
	ToolGetCalendarEvents      = "get_calendar_events"
	ToolGetWeatherReport       = "get_weather_report"
	ToolLogMaintenance         = "log_maintenance"
	ToolCheckMaintenanceStatus = "check_maintenance_status"
)

// maintenanceDueWindow is how far ahead a task counts as "due soon".
const maintenanceDueWindow = 30 * 24 * time.Hour

// MaintenanceEntry is one logged household maintenance task.
type MaintenanceEntry struct {
	bun.BaseModel `bun:"table:maintenance_log"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Task          string    `bun:"task,notnull" json:"task"`
	DatePerformed time.Time `bun:"date_performed,notnull" json:"date_performed"`
	NextDue       time.Time `bun:"next_due,notnull" json:"next_due"`
	Notes         string    `bun:"notes" json:"notes,omitempty"`
}

type calendarDigest struct {
	Calendar string              `json:"calendar"`
	Events   []hax.CalendarEvent `json:"events"`
}

// SchedulerDeps carries the external collaborators of the scheduler tools.
type SchedulerDeps struct {
	HA  *hax.Client
	DB  *bun.DB
	Now func() time.Time
}

// RegisterScheduler wires calendar, weather, and maintenance-log tools.
func RegisterScheduler(c *Catalog, deps SchedulerDeps) error {
	if deps.HA == nil {
		return fmt.Errorf("home assistant client is required")
	}
	if deps.DB == nil {
		return fmt.Errorf("maintenance database is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	if err := c.Register(Spec{
		Name: ToolGetCalendarEvents,
		Desc: "Fetches upcoming calendar events from every Home Assistant calendar.",
		Params: map[string]*schema.ParameterInfo{
			"days": {Type: schema.Integer, Desc: "How many days of events to fetch (default 1)"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		days := intArg(args, "days", 1)
		if days <= 0 {
			days = 1
		}
		start := now()
		end := start.AddDate(0, 0, days)

		states, err := deps.HA.States(ctx)
		if err != nil {
			return nil, err
		}

		var digests []calendarDigest
		for _, s := range states {
			if !strings.HasPrefix(s.EntityID, "calendar.") {
				continue
			}
			events, err := deps.HA.CalendarEvents(ctx, s.EntityID, start, end)
			if err != nil {
				return nil, fmt.Errorf("calendar %s: %w", s.EntityID, err)
			}
			digests = append(digests, calendarDigest{Calendar: s.FriendlyName(), Events: events})
		}
		if len(digests) == 0 {
			return "No calendars configured.", nil
		}
		return digests, nil
	}); err != nil {
		return err
	}

	if err := c.Register(Spec{
		Name: ToolGetWeatherReport,
		Desc: "Reads the current weather from the Home Assistant weather entity.",
	}, func(ctx context.Context, _ map[string]any) (any, error) {
		states, err := deps.HA.States(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range states {
			if s.Domain() != "weather" || unavailable(s.State) {
				continue
			}
			return map[string]any{
				"location":   s.FriendlyName(),
				"condition":  s.State,
				"attributes": s.Attributes,
			}, nil
		}
		return nil, fmt.Errorf("no weather entity available")
	}); err != nil {
		return err
	}

	if err := c.Register(Spec{
		Name: ToolLogMaintenance,
		Desc: "Records a completed maintenance task and computes when it is next due.",
		Params: map[string]*schema.ParameterInfo{
			"task":            {Type: schema.String, Desc: "Task name, e.g. 'Refrigerator Filter'", Required: true},
			"next_due_months": {Type: schema.Integer, Desc: "Months until the task is due again", Required: true},
			"notes":           {Type: schema.String, Desc: "Optional notes"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		months := intArg(args, "next_due_months", 0)
		if months <= 0 {
			return nil, fmt.Errorf("next_due_months must be positive")
		}
		performed := now().UTC()
		entry := &MaintenanceEntry{
			Task:          stringArg(args, "task"),
			DatePerformed: performed,
			NextDue:       performed.AddDate(0, months, 0),
			Notes:         stringArg(args, "notes"),
		}
		if _, err := deps.DB.NewInsert().Model(entry).Exec(ctx); err != nil {
			return nil, fmt.Errorf("log maintenance: %w", err)
		}
		return entry, nil
	}); err != nil {
		return err
	}

	return c.Register(Spec{
		Name: ToolCheckMaintenanceStatus,
		Desc: "Lists maintenance tasks that are overdue or due within the next 30 days.",
	}, func(ctx context.Context, _ map[string]any) (any, error) {
		cutoff := now().UTC().Add(maintenanceDueWindow)
		var due []MaintenanceEntry
		err := deps.DB.NewSelect().
			Model(&due).
			Where("next_due <= ?", cutoff).
			Order("next_due ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("check maintenance: %w", err)
		}
		if len(due) == 0 {
			return "Nothing is due in the next 30 days.", nil
		}
		return due, nil
	})
}
