package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	capabilityx "github.com/pjordan/steward/agent/capability"
	homecap "github.com/pjordan/steward/agent/capability/home"
	contractx "github.com/pjordan/steward/agent/contract"
	guardx "github.com/pjordan/steward/agent/guard"
	llmx "github.com/pjordan/steward/agent/llm"
	orchestratorx "github.com/pjordan/steward/agent/orchestrator"
	promptx "github.com/pjordan/steward/agent/prompt"
	registryx "github.com/pjordan/steward/agent/registry"
	routerx "github.com/pjordan/steward/agent/router"
	statex "github.com/pjordan/steward/agent/state"
	toolx "github.com/pjordan/steward/agent/tool"
	configx "github.com/pjordan/steward/pkg/config"
	hax "github.com/pjordan/steward/pkg/homeassistant"
	knowledgex "github.com/pjordan/steward/pkg/knowledge"
	_ "github.com/pjordan/steward/pkg/logger/autoload"
	openrouterx "github.com/pjordan/steward/pkg/openrouter"
)

type AppConfig struct {
	// SessionStore selects persistence: "memory" or "redis" (Upstash REST,
	// configured through UPSTASH_REDIS_*).
	SessionStore  string `envconfig:"SESSION_STORE" split_words:"true" default:"memory"`
	DBPath        string `envconfig:"DB_PATH" split_words:"true" default:"steward.db"`
	OllamaURL     string `envconfig:"OLLAMA_URL" split_words:"true" default:"http://localhost:11434"`
	MaxDispatches int    `envconfig:"MAX_DISPATCHES" split_words:"true" default:"6"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("STEWARD")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid model configuration")
	}

	orch, cleanup, err := buildOrchestrator(ctx, appCfg, llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer cleanup()

	runREPL(ctx, orch)
}

func buildOrchestrator(ctx context.Context, appCfg *AppConfig, llmCfg *llmx.Config) (*orchestratorx.Orchestrator, func(), error) {
	noop := func() {}

	haCfg := configx.MustNew[hax.Config]("HOME_ASSISTANT")
	ha, err := hax.NewClient(*haCfg)
	if err != nil {
		return nil, noop, fmt.Errorf("home assistant client: %w", err)
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, appCfg.DBPath)
	if err != nil {
		return nil, noop, fmt.Errorf("open database %s: %w", appCfg.DBPath, err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("closing database")
		}
	}
	if err := createTables(ctx, db); err != nil {
		return nil, cleanup, err
	}

	kbCfg := configx.MustNew[knowledgex.Config]("KNOWLEDGE")
	embedClient := openrouterx.NewClient(llmCfg.ConfigFor(contractx.CapabilityResearch))
	if embedClient == nil {
		return nil, cleanup, errors.New("embedding client requires an api key")
	}
	collection, err := knowledgex.Open(ctx, *kbCfg, embedClient)
	if err != nil {
		return nil, cleanup, fmt.Errorf("knowledge base: %w", err)
	}

	catalog := toolx.NewCatalog()
	if err := toolx.RegisterHome(catalog, ha); err != nil {
		return nil, cleanup, fmt.Errorf("register home tools: %w", err)
	}
	if err := toolx.RegisterResearch(catalog, collection); err != nil {
		return nil, cleanup, fmt.Errorf("register research tools: %w", err)
	}
	if err := toolx.RegisterFinance(catalog, db); err != nil {
		return nil, cleanup, fmt.Errorf("register finance tools: %w", err)
	}
	if err := toolx.RegisterScheduler(catalog, toolx.SchedulerDeps{HA: ha, DB: db}); err != nil {
		return nil, cleanup, fmt.Errorf("register scheduler tools: %w", err)
	}
	if err := toolx.RegisterSysadmin(catalog, toolx.SysadminDeps{OllamaURL: appCfg.OllamaURL}); err != nil {
		return nil, cleanup, fmt.Errorf("register sysadmin tools: %w", err)
	}

	reg, err := buildRegistry(ctx, llmCfg, catalog)
	if err != nil {
		return nil, cleanup, err
	}

	routerCfg := llmCfg.ConfigFor(llmx.RouterComponent)
	routerModel, err := routerCfg.New(ctx)
	if err != nil {
		return nil, cleanup, fmt.Errorf("router model: %w", err)
	}
	completer, err := routerx.NewModelCompleter(ctx, routerModel, promptx.LoadPromptSet().Router)
	if err != nil {
		return nil, cleanup, err
	}
	router, err := routerx.New(completer, reg)
	if err != nil {
		return nil, cleanup, err
	}

	store, err := buildStore(appCfg.SessionStore)
	if err != nil {
		return nil, cleanup, err
	}

	orch, err := orchestratorx.New(store, reg, router, guardx.NewMiddleware(), orchestratorx.Config{
		MaxDispatches: appCfg.MaxDispatches,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return orch, cleanup, nil
}

func buildRegistry(ctx context.Context, llmCfg *llmx.Config, catalog *toolx.Catalog) (*registryx.Registry, error) {
	prompts := promptx.LoadPromptSet()

	model := func(component string) (capabilityx.AgentConfig, error) {
		cfg := llmCfg.ConfigFor(component)
		m, err := cfg.New(ctx)
		if err != nil {
			return capabilityx.AgentConfig{}, fmt.Errorf("model for %s: %w", component, err)
		}
		return capabilityx.AgentConfig{ID: component, Model: m, Catalog: catalog}, nil
	}

	homeCfg := llmCfg.ConfigFor(contractx.CapabilityHome)
	scoutModel, err := homeCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("home scout model: %w", err)
	}
	operatorModel, err := homeCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("home operator model: %w", err)
	}
	homeAgent, err := homecap.New(ctx, homecap.Config{
		ID:             contractx.CapabilityHome,
		ScoutModel:     scoutModel,
		OperatorModel:  operatorModel,
		ScoutPrompt:    prompts.HomeScout,
		OperatorPrompt: prompts.HomeOperator,
		Catalog:        catalog,
	})
	if err != nil {
		return nil, err
	}

	type spec struct {
		id     string
		desc   string
		prompt string
		tools  []string
	}
	specs := []spec{
		{contractx.CapabilityResearch,
			"Searches the household document archive (manuals, receipts, notes) and answers from it.",
			prompts.Research, []string{toolx.ToolSearchKnowledgeBase}},
		{contractx.CapabilityFinance,
			"Answers purchase-history and spending questions by querying the order database.",
			prompts.Finance, []string{toolx.ToolQueryOrders}},
		{contractx.CapabilityScheduler,
			"Morning briefings, calendar, weather, and household maintenance logging.",
			prompts.Scheduler, []string{
				toolx.ToolGetCalendarEvents, toolx.ToolGetWeatherReport,
				toolx.ToolLogMaintenance, toolx.ToolCheckMaintenanceStatus,
			}},
		{contractx.CapabilitySysadmin,
			"Inspects the home server: installed models, temperatures, fan speeds.",
			prompts.SystemAdmin, []string{
				toolx.ToolListModels, toolx.ToolCheckServerTemp, toolx.ToolCheckFanSpeed,
			}},
		{contractx.CapabilityChat,
			"Small talk, jokes, and general questions no specialist covers.",
			prompts.GeneralChat, nil},
	}

	entries := []registryx.Entry{{
		Descriptor: contractx.Descriptor{
			ID:          contractx.CapabilityHome,
			Description: "Controls smart-home devices: lights, switches, thermostats, locks.",
			Tools: []string{
				toolx.ToolGetActiveDomains, toolx.ToolListEntitiesInDomain, toolx.ToolControlDevice,
			},
		},
		Agent: homeAgent,
	}}

	for _, s := range specs {
		agentCfg, err := model(s.id)
		if err != nil {
			return nil, err
		}
		agentCfg.SystemPrompt = s.prompt
		agentCfg.Tools = s.tools
		agent, err := capabilityx.NewAgent(ctx, agentCfg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, registryx.Entry{
			Descriptor: contractx.Descriptor{ID: s.id, Description: s.desc, Tools: s.tools},
			Agent:      agent,
		})
	}

	return registryx.New(contractx.CapabilityChat, entries)
}

func buildStore(kind string) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return statex.NewMemoryStore(), nil
	case "redis":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		return statex.NewUpstashRedisStore(*cfg)
	default:
		return nil, fmt.Errorf("unknown session store %q", kind)
	}
}

func createTables(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*toolx.Order)(nil),
		(*toolx.MaintenanceEntry)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func runREPL(ctx context.Context, orch *orchestratorx.Orchestrator) {
	sessionID := uuid.NewString()
	fmt.Println("Steward online. Type 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}

		turn, err := orch.Submit(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("turn failed")
			continue
		}
		for _, msg := range turn {
			if msg.Role == contractx.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
				fmt.Printf("Agent: %s\n", msg.Content)
			}
		}
	}
}
