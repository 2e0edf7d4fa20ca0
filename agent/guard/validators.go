package guard

import (
	"strings"
	"unicode"

	contractx "github.com/pjordan/steward/agent/contract"
)

// actionClaimLexicon lists verbs that indicate a real-world state change.
// A final assistant message matching any of these with zero tool calls is
// treated as a hallucinated action.
var actionClaimLexicon = []string{
	"turned on",
	"turned off",
	"switched",
	"activated",
	"is now on",
	"is now off",
	"logged",
	"scheduled",
}

const actionClaimCorrection = "[SYSTEM ERROR] You claimed to perform an action but did not generate a tool call. Stop roleplaying. Call the tool now."

// ActionClaimValidator rejects assistant turns that narrate an action in
// free text without an accompanying tool invocation.
type ActionClaimValidator struct {
	lexicon []string
}

func NewActionClaimValidator(extra ...string) *ActionClaimValidator {
	lexicon := make([]string, 0, len(actionClaimLexicon)+len(extra))
	lexicon = append(lexicon, actionClaimLexicon...)
	lexicon = append(lexicon, extra...)
	return &ActionClaimValidator{lexicon: lexicon}
}

func (v *ActionClaimValidator) Check(msg contractx.Message) (string, bool) {
	if msg.HasToolCalls() {
		return "", false
	}
	content := strings.ToLower(msg.Content)
	if content == "" {
		return "", false
	}
	for _, phrase := range v.lexicon {
		if strings.Contains(content, phrase) {
			return actionClaimCorrection, true
		}
	}
	return "", false
}

const foreignTextCorrection = "ERROR: INVALID_OUTPUT_FORMAT. RETRY_IN_ENGLISH_ONLY."

// defaultForeignLetterRatio is the fraction of non-ASCII letters above
// which output is considered off-policy language.
const defaultForeignLetterRatio = 0.3

// ForeignTextValidator rejects output whose letters are predominantly
// non-ASCII. The ratio is computed over letters only so that emoji or
// typographic punctuation in an otherwise English reply do not trip it.
type ForeignTextValidator struct {
	threshold float64
}

func NewForeignTextValidator() *ForeignTextValidator {
	return &ForeignTextValidator{threshold: defaultForeignLetterRatio}
}

func (v *ForeignTextValidator) Check(msg contractx.Message) (string, bool) {
	letters := 0
	foreign := 0
	for _, r := range msg.Content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r > unicode.MaxASCII {
			foreign++
		}
	}
	if letters == 0 {
		return "", false
	}
	if float64(foreign)/float64(letters) > v.threshold {
		return foreignTextCorrection, true
	}
	return "", false
}
