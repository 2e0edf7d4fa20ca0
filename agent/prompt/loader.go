package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/home_scout.txt
	homeScoutRaw string

	//go:embed template/home_operator.txt
	homeOperatorRaw string

	//go:embed template/research.txt
	researchRaw string

	//go:embed template/finance.txt
	financeRaw string

	//go:embed template/scheduler.txt
	schedulerRaw string

	//go:embed template/system_admin.txt
	systemAdminRaw string

	//go:embed template/general_chat.txt
	generalChatRaw string
)

// PromptSet holds loaded prompt content.
//
// The texts are rendered through eino FString templates, so literal braces
// inside them are written doubled ({{ }}) in the template files.
type PromptSet struct {
	Router       string
	HomeScout    string
	HomeOperator string
	Research     string
	Finance      string
	Scheduler    string
	SystemAdmin  string
	GeneralChat  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:       strings.TrimSpace(routerRaw),
		HomeScout:    strings.TrimSpace(homeScoutRaw),
		HomeOperator: strings.TrimSpace(homeOperatorRaw),
		Research:     strings.TrimSpace(researchRaw),
		Finance:      strings.TrimSpace(financeRaw),
		Scheduler:    strings.TrimSpace(schedulerRaw),
		SystemAdmin:  strings.TrimSpace(systemAdminRaw),
		GeneralChat:  strings.TrimSpace(generalChatRaw),
	}
}
