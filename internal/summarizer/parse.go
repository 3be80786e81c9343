package summarizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"meeting-assistant-go/internal/types"
)

const notSpecified = "Not specified"

// stringList accepts a JSON array of strings, a single string, or an array
// of arbitrary values which are rendered as text.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if s := strings.TrimSpace(one); s != "" {
			*l = stringList{s}
		}
		return nil
	}
	var many []json.RawMessage
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	out := make(stringList, 0, len(many))
	for _, raw := range many {
		if s := rawText(raw); s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(raw) == "null" {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

type actionItem struct {
	Item     string `json:"item"`
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
	Owner    string `json:"owner"`
	Priority string `json:"priority"`
	DueDate  string `json:"dueDate"`
	Due      string `json:"due_date"`
}

type reply struct {
	Title        string            `json:"title"`
	Summary      string            `json:"summary"`
	KeyPoints    stringList        `json:"keyPoints"`
	ActionItems  []json.RawMessage `json:"actionItems"`
	KeyDecisions stringList        `json:"keyDecisions"`
}

// ParseSummary reads the model's reply. Replies that are not the requested
// JSON still produce a result built from the raw text.
func ParseSummary(text string) types.SummaryResult {
	raw := strings.TrimSpace(text)
	if js := extractJSON(raw); js != "" {
		var r reply
		if err := json.Unmarshal([]byte(js), &r); err == nil {
			return r.result(raw)
		}
	}
	return fallbackSummary(raw)
}

func (r reply) result(raw string) types.SummaryResult {
	out := types.SummaryResult{
		Title:        strings.TrimSpace(r.Title),
		Summary:      strings.TrimSpace(r.Summary),
		KeyPoints:    nonNil(r.KeyPoints),
		ActionItems:  []types.ActionItem{},
		KeyDecisions: nonNil(r.KeyDecisions),
		RawText:      raw,
		Structured:   true,
	}
	for _, rawItem := range r.ActionItems {
		if item, ok := parseActionItem(rawItem); ok {
			out.ActionItems = append(out.ActionItems, item)
		}
	}
	return out
}

func parseActionItem(raw json.RawMessage) (types.ActionItem, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return types.ActionItem{}, false
		}
		return types.ActionItem{Item: s, Assignee: notSpecified, Priority: "Medium", DueDate: notSpecified}, true
	}
	var a actionItem
	if err := json.Unmarshal(raw, &a); err != nil {
		return types.ActionItem{}, false
	}
	item := types.ActionItem{
		Item:     firstNonEmpty(a.Item, a.Task),
		Assignee: firstNonEmpty(a.Assignee, a.Owner, notSpecified),
		Priority: firstNonEmpty(a.Priority, "Medium"),
		DueDate:  firstNonEmpty(a.DueDate, a.Due, notSpecified),
	}
	return item, item.Item != ""
}

// fallbackSummary keeps the raw text as the summary, takes the first
// markdown heading as the title and bullet lines as key points.
func fallbackSummary(raw string) types.SummaryResult {
	out := types.SummaryResult{
		Summary:      raw,
		KeyPoints:    []string{},
		ActionItems:  []types.ActionItem{},
		KeyDecisions: []string{},
		RawText:      raw,
	}
	for _, line := range strings.Split(stripFences(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case out.Title == "" && strings.HasPrefix(line, "#"):
			out.Title = strings.TrimSpace(strings.TrimLeft(line, "#"))
		case out.Title == "" && strings.HasPrefix(strings.ToLower(line), "title:"):
			out.Title = strings.TrimSpace(line[len("title:"):])
		default:
			if p, ok := bullet(line); ok {
				out.KeyPoints = append(out.KeyPoints, p)
			}
		}
	}
	return out
}

func bullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			p := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return p, p != ""
		}
	}
	// "1. point" / "2) point"
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		p := strings.TrimSpace(line[i+2:])
		return p, p != ""
	}
	return "", false
}

var fence = regexp.MustCompile("```[A-Za-z]*")

// stripFences removes markdown code fences, keeping their contents.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return fence.ReplaceAllString(s, "")
}

// extractJSON finds the first balanced JSON object in s after removing
// markdown fences. Braces inside string literals are ignored.
func extractJSON(s string) string {
	s = stripFences(s)
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nonNil(l stringList) []string {
	if l == nil {
		return []string{}
	}
	return l
}
