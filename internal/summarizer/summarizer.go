// Package summarizer turns meeting text into a structured summary with the
// Gemini generateContent API.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/types"
)

// Service is the name attempts against the text provider are recorded under.
const Service = "gemini"

// PlaceholderSummary is returned without a remote call when there is no
// transcript content and no notes.
const PlaceholderSummary = "No content available for summary"

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type Client struct {
	cfg    config.Gemini
	caller *resilient.Client
	log    *logrus.Entry
}

func New(cfg config.Gemini, caller *resilient.Client, log *logrus.Entry) *Client {
	return &Client{cfg: cfg, caller: caller, log: log.WithField("component", "summarizer")}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(c.cfg.Model) + ":generateContent"
}

// Summarize asks the model for a structured summary of tr's content.
func (c *Client) Summarize(ctx context.Context, rec resilient.Recorder, tr types.TranscriptionResult, notes string) (types.SummaryResult, error) {
	text := strings.TrimSpace(tr.Content())
	notes = strings.TrimSpace(notes)
	if text == "" && notes == "" {
		c.log.Info("empty transcript and no notes, skipping model call")
		return types.SummaryResult{
			Summary:      PlaceholderSummary,
			KeyPoints:    []string{},
			ActionItems:  []types.ActionItem{},
			KeyDecisions: []string{},
		}, nil
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: BuildPrompt(text, notes)}}}},
		GenerationConfig: generationConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return types.SummaryResult{}, types.NewError(types.KindInternalError, types.CodeInternalError, "encode summary request", err)
	}

	var reply string
	err = c.caller.Do(ctx, rec, resilient.Request{
		Service: Service,
		Method:  http.MethodPost,
		URL:     c.endpoint(),
		Header: http.Header{
			"X-Goog-Api-Key": {c.cfg.APIKey},
			"Content-Type":   {"application/json"},
		},
		Body:     body,
		Classify: Classify,
	}, func(b []byte) error {
		t, err := candidateText(b)
		if err != nil {
			return err
		}
		reply = t
		return nil
	})
	if err != nil {
		return types.SummaryResult{}, c.translateError(err)
	}

	res := ParseSummary(reply)
	c.log.WithFields(logrus.Fields{
		"structured":    res.Structured,
		"key_points":    len(res.KeyPoints),
		"action_items":  len(res.ActionItems),
		"key_decisions": len(res.KeyDecisions),
	}).Info("summary complete")
	return res, nil
}

// candidateText joins the text parts of the first candidate.
func candidateText(b []byte) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", fmt.Errorf("decode generateContent response: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("response has no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("candidate has no text (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

func (c *Client) translateError(err error) error {
	var ce *resilient.CallError
	switch {
	case errors.Is(err, resilient.ErrDecode):
		return types.NewError(types.KindUpstreamPermanent, types.CodeSummaryParseError, "unusable text service response", err)
	case errors.As(err, &ce):
		return types.NewError(ce.Kind, types.CodeSummaryServiceError, "text service call failed", err)
	}
	c.log.WithError(err).Error("unexpected summary failure")
	return types.NewError(types.KindInternalError, types.CodeInternalError, "summarization failed", err)
}

// Classify maps Google API error statuses onto outcomes, falling back to
// the HTTP status code.
func Classify(status int, body []byte) types.Outcome {
	outcome := resilient.DefaultClassify(status, body)
	if outcome == types.OutcomeSuccess {
		return outcome
	}
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return outcome
	}
	switch e.Error.Status {
	case "RESOURCE_EXHAUSTED":
		return types.OutcomeRateLimited
	case "UNAVAILABLE", "INTERNAL":
		return types.OutcomeTransientError
	case "DEADLINE_EXCEEDED":
		return types.OutcomeTimeout
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "PERMISSION_DENIED", "UNAUTHENTICATED", "NOT_FOUND":
		return types.OutcomePermanentError
	}
	return outcome
}
