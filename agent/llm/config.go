package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/pjordan/steward/agent/contract"
	openrouterx "github.com/pjordan/steward/pkg/openrouter"
)

// Config selects chat models per component. The router and every
// tool-driven capability default to temperature 0; general chat runs warmer
// so replies do not read robotic. A per-component temperature below zero
// means "use the default".
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	RouterModel    string `envconfig:"ROUTER_MODEL" split_words:"true"`
	HomeModel      string `envconfig:"HOME_MODEL" split_words:"true"`
	ResearchModel  string `envconfig:"RESEARCH_MODEL" split_words:"true"`
	FinanceModel   string `envconfig:"FINANCE_MODEL" split_words:"true"`
	SchedulerModel string `envconfig:"SCHEDULER_MODEL" split_words:"true"`
	SysadminModel  string `envconfig:"SYSADMIN_MODEL" split_words:"true"`
	ChatModel      string `envconfig:"CHAT_MODEL" split_words:"true"`

	RouterTemperature float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"-1"`
	ChatTemperature   float32 `envconfig:"CHAT_TEMPERATURE" split_words:"true" default:"0.7"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: model api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// RouterComponent selects the supervisor's decision model in ConfigFor.
const RouterComponent = "router"

// ConfigFor resolves the model configuration for one component: the router
// or a capability id.
func (c Config) ConfigFor(component string) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(name string) {
		if v := strings.TrimSpace(name); v != "" {
			modelName = v
		}
	}

	switch component {
	case RouterComponent:
		override(c.RouterModel)
		if c.RouterTemperature >= 0 {
			temp = c.RouterTemperature
		}
	case contractx.CapabilityHome:
		override(c.HomeModel)
	case contractx.CapabilityResearch:
		override(c.ResearchModel)
	case contractx.CapabilityFinance:
		override(c.FinanceModel)
	case contractx.CapabilityScheduler:
		override(c.SchedulerModel)
	case contractx.CapabilitySysadmin:
		override(c.SysadminModel)
	case contractx.CapabilityChat:
		override(c.ChatModel)
		if c.ChatTemperature >= 0 {
			temp = c.ChatTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
