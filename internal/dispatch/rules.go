package dispatch

import (
	"strings"
	"unicode/utf8"
)

// Intent classification is keyword driven and kept as data so the tables can
// be tested exhaustively and later swapped for a model-based classifier
// without touching the facade contract.

// visualizationTriggers are the words in a user message that request a
// visual response. An explicit request flag on the API bypasses this check.
var visualizationTriggers = []string{
	"plot", "chart", "graph", "table", "analyze", "show", "visualize",
}

func wantsVisualization(message string) bool {
	lower := strings.ToLower(message)
	return containsAnyWord(lower, visualizationTriggers)
}

// vizRule maps a keyword family to a payload builder. Rules are evaluated in
// order; the first match wins, so more specific families come first.
type vizRule struct {
	keywords []string
	build    func(title string) *Payload
}

var vizRules = []vizRule{
	{[]string{"system", "cpu", "memory", "disk", "dashboard", "stats"}, NewDashboardPayload},
	{[]string{"chart", "bar"}, NewChartPayload},
	{[]string{"plot", "graph", "sine", "line"}, NewPlotPayload},
	{[]string{"table", "grid"}, NewTablePayload},
	{[]string{"code", "function", "script", "fibonacci"}, NewCodePayload},
}

// synthesizeVisualization produces the payload for a matched visualization
// intent. Messages that match no family get a text payload so the caller
// still receives something renderable.
func synthesizeVisualization(message string) *Payload {
	lower := strings.ToLower(message)
	title := payloadTitle(message)

	for _, rule := range vizRules {
		if containsAnyWord(lower, rule.keywords) {
			return rule.build(title)
		}
	}
	return NewTextPayload(title, message)
}

func payloadTitle(message string) string {
	const maxTitle = 60
	return truncate(strings.TrimSpace(message), maxTitle)
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// topicRule tags a conversation topic when a keyword family appears in the
// user's message.
type topicRule struct {
	keywords   []string
	topic      string
	importance float64
}

var topicRules = []topicRule{
	{[]string{"system", "cpu", "memory", "disk", "stats", "dashboard"}, "system_monitoring", 1.5},
	{[]string{"data", "csv", "dataset", "spreadsheet"}, "data_analysis", 1.2},
	{[]string{"code", "function", "bug", "script"}, "code_assistance", 1.2},
}

// matchTopics returns every topic rule triggered by the message.
func matchTopics(message string) []topicRule {
	lower := strings.ToLower(message)
	var matched []topicRule
	for _, rule := range topicRules {
		if containsAnyWord(lower, rule.keywords) {
			matched = append(matched, rule)
		}
	}
	return matched
}

func containsAnyWord(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
