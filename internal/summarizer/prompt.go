package summarizer

import (
	"fmt"
	"strings"
)

const promptTemplate = `You are an AI meeting assistant. Analyze the meeting content below and produce a structured summary with actionable insights.

%s

Return ONLY valid JSON matching this schema:
{
  "title": "Short meeting title",
  "summary": "A clear, well-structured summary of the discussion and its outcomes",
  "keyPoints": ["Key discussion point"],
  "actionItems": [
    {
      "item": "Task description",
      "assignee": "Person name or 'Not specified'",
      "priority": "High/Medium/Low",
      "dueDate": "Date or 'Not specified'"
    }
  ],
  "keyDecisions": ["Decision made during the meeting"]
}

GUIDELINES:
1. Ground every field in the meeting content. Do not invent names, dates or numbers.
2. If pre-meeting notes are provided, integrate them into the summary naturally.
3. Leave arrays empty instead of guessing.
4. Do not wrap the JSON in markdown fences and do not add commentary.
`

// BuildPrompt embeds the transcript content and optional pre-meeting notes in
// the instruction template.
func BuildPrompt(content, notes string) string {
	var parts []string
	if n := strings.TrimSpace(notes); n != "" {
		parts = append(parts, "Pre-meeting context and notes:\n"+n)
	}
	if c := strings.TrimSpace(content); c != "" {
		parts = append(parts, "Meeting transcript/content:\n"+c)
	} else {
		parts = append(parts, "Meeting transcript/content:\n(no speech was recognized in the recording)")
	}
	return fmt.Sprintf(promptTemplate, strings.Join(parts, "\n\n"))
}
