package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	contractx "github.com/pjordan/steward/agent/contract"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

// ExtractJSONObject pulls a JSON object out of raw model output. Models
// routinely wrap the payload in prose or code fences, so extraction runs
// three strategies in order: direct parse, fenced block, then the window
// from the first '{' to the last '}'.
func ExtractJSONObject(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty output", contractx.ErrRouteParse)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj, nil
	}

	if m := fencedBlockPattern.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", contractx.ErrRouteParse, truncate(trimmed, 120))
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
