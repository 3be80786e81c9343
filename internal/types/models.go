package types

import (
	"strings"
	"time"
)

type AudioInput struct {
	Data       []byte        `json:"-"`
	Format     string        `json:"format"`
	Filename   string        `json:"filename,omitempty"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// LanguageHints carries the caller's source/target language codes.
type LanguageHints struct {
	Source string `json:"sourceLanguage"`
	Target string `json:"targetLanguage"`
}

const (
	DefaultSourceLanguage = "hi"
	DefaultTargetLanguage = "en"
)

// NormalizeLanguage reduces a code like "en-US" to "en".
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

// Normalized fills defaults and normalizes both codes.
func (h LanguageHints) Normalized() LanguageHints {
	out := LanguageHints{Source: NormalizeLanguage(h.Source), Target: NormalizeLanguage(h.Target)}
	if out.Source == "" {
		out.Source = DefaultSourceLanguage
	}
	if out.Target == "" {
		out.Target = DefaultTargetLanguage
	}
	return out
}

type ProcessRequest struct {
	Audio           AudioInput
	Languages       LanguageHints
	PreMeetingNotes string
}

type NormalizedAudio struct {
	Data       []byte
	SampleRate int
	Channels   int
	Encoding   string
	Duration   time.Duration
	Decoder    string

	// SourceFormat is the container format the upload resolved to.
	SourceFormat string
}

type TranscriptionResult struct {
	Text           string            `json:"text"`
	Translation    string            `json:"translation,omitempty"`
	SourceLanguage string            `json:"sourceLanguage"`
	TargetLanguage string            `json:"targetLanguage,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Content is the text handed to summarization: the translation when one was
// produced, otherwise the transcript.
func (t TranscriptionResult) Content() string {
	if strings.TrimSpace(t.Translation) != "" {
		return t.Translation
	}
	return t.Text
}

type ActionItem struct {
	Item     string `json:"item"`
	Assignee string `json:"assignee"`
	Priority string `json:"priority"`
	DueDate  string `json:"dueDate"`
}

type SummaryResult struct {
	Title        string       `json:"title"`
	Summary      string       `json:"summary"`
	KeyPoints    []string     `json:"keyPoints"`
	ActionItems  []ActionItem `json:"actionItems"`
	KeyDecisions []string     `json:"keyDecisions"`
	RawText      string       `json:"rawText,omitempty"`
	Structured   bool         `json:"structured"`
}
