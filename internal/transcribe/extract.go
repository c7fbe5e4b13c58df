package transcribe

import (
	"encoding/json"
	"strings"
)

// Strategy tags how ExtractJSON found its object.
type Strategy string

const (
	StrategyLine   Strategy = "line"   // a whole stdout line parsed as an object
	StrategyBraces Strategy = "braces" // substring between the last '{' and last '}'
	StrategyNone   Strategy = "none"
)

// ExtractJSON pulls the engine's JSON object out of noisy stdout. Non-blank
// lines are tried from last to first; failing that, the text between the last
// '{' and the last '}' is tried. Payload text containing braces can defeat
// the second strategy, in which case ok is false.
func ExtractJSON(stdout string) (obj map[string]any, strategy Strategy, ok bool) {
	lines := strings.Split(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m, ok := parseObject(line); ok {
			return m, StrategyLine, true
		}
	}
	start := strings.LastIndex(stdout, "{")
	end := strings.LastIndex(stdout, "}")
	if start >= 0 && end > start {
		if m, ok := parseObject(stdout[start : end+1]); ok {
			return m, StrategyBraces, true
		}
	}
	return nil, StrategyNone, false
}

func parseObject(s string) (map[string]any, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
