package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/types"
)

// Service is the name attempts against the speech provider are recorded under.
const Service = "bhashini"

type languageConfig struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type taskConfig struct {
	Language       languageConfig `json:"language"`
	ServiceID      string         `json:"serviceId,omitempty"`
	AudioFormat    string         `json:"audioFormat,omitempty"`
	SamplingRate   int            `json:"samplingRate,omitempty"`
	PostProcessors []string       `json:"postprocessors,omitempty"`
}

type pipelineTask struct {
	TaskType string     `json:"taskType"`
	Config   taskConfig `json:"config"`
}

type audioContent struct {
	AudioContent string `json:"audioContent"`
}

type computeRequest struct {
	PipelineTasks []pipelineTask `json:"pipelineTasks"`
	InputData     struct {
		Audio []audioContent `json:"audio"`
	} `json:"inputData"`
}

type taskOutput struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type taskResponse struct {
	TaskType string       `json:"taskType"`
	Config   *taskConfig  `json:"config,omitempty"`
	Output   []taskOutput `json:"output"`
}

type computeResponse struct {
	PipelineResponse []taskResponse `json:"pipelineResponse"`
}

type Client struct {
	cfg    config.Bhashini
	caller *resilient.Client
	log    *logrus.Entry
}

func New(cfg config.Bhashini, caller *resilient.Client, log *logrus.Entry) *Client {
	return &Client{cfg: cfg, caller: caller, log: log.WithField("component", "transcription")}
}

// Configured reports whether an auth token is set.
func (c *Client) Configured() bool { return strings.TrimSpace(c.cfg.AuthToken) != "" }

// Transcribe sends the normalized audio through the ASR task, plus the
// translation task when the target language differs from the source.
func (c *Client) Transcribe(ctx context.Context, rec resilient.Recorder, audio types.NormalizedAudio, hints types.LanguageHints) (types.TranscriptionResult, error) {
	hints = hints.Normalized()
	translate := hints.Target != hints.Source

	body, err := json.Marshal(c.buildRequest(audio, hints, translate))
	if err != nil {
		return types.TranscriptionResult{}, types.NewError(types.KindInternalError, types.CodeInternalError, "encode speech request", err)
	}

	var parsed types.TranscriptionResult
	err = c.caller.Do(ctx, rec, resilient.Request{
		Service: Service,
		Method:  http.MethodPost,
		URL:     c.cfg.URL,
		Header: http.Header{
			"Authorization": {c.cfg.AuthToken},
			"Content-Type":  {"application/json"},
			"Accept":        {"application/json"},
		},
		Body:     body,
		Classify: Classify,
	}, func(b []byte) error {
		res, err := parseResponse(b, hints, translate)
		if err != nil {
			return err
		}
		parsed = res
		return nil
	})
	if err != nil {
		return types.TranscriptionResult{}, c.translateError(err)
	}

	parsed.Metadata["asr_service_id"] = c.cfg.ASRServiceID
	if translate {
		parsed.Metadata["translation_service_id"] = c.cfg.TranslationServiceID
	}
	parsed.Metadata["audio_duration_ms"] = strconv.FormatInt(audio.Duration.Milliseconds(), 10)
	c.log.WithFields(logrus.Fields{
		"source":     parsed.SourceLanguage,
		"target":     parsed.TargetLanguage,
		"chars":      len(parsed.Text),
		"translated": translate,
	}).Info("transcription complete")
	return parsed, nil
}

func (c *Client) buildRequest(audio types.NormalizedAudio, hints types.LanguageHints, translate bool) computeRequest {
	req := computeRequest{
		PipelineTasks: []pipelineTask{{
			TaskType: "asr",
			Config: taskConfig{
				Language:       languageConfig{SourceLanguage: hints.Source},
				ServiceID:      c.cfg.ASRServiceID,
				AudioFormat:    "wav",
				SamplingRate:   audio.SampleRate,
				PostProcessors: []string{"itn"},
			},
		}},
	}
	if translate {
		req.PipelineTasks = append(req.PipelineTasks, pipelineTask{
			TaskType: "translation",
			Config: taskConfig{
				Language:  languageConfig{SourceLanguage: hints.Source, TargetLanguage: hints.Target},
				ServiceID: c.cfg.TranslationServiceID,
			},
		})
	}
	req.InputData.Audio = []audioContent{{AudioContent: base64.StdEncoding.EncodeToString(audio.Data)}}
	return req
}

func parseResponse(b []byte, hints types.LanguageHints, translate bool) (types.TranscriptionResult, error) {
	var resp computeResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("decode pipeline response: %w", err)
	}

	res := types.TranscriptionResult{
		SourceLanguage: hints.Source,
		TargetLanguage: hints.Target,
		Metadata:       map[string]string{},
	}
	var haveASR, haveTranslation bool
	for _, task := range resp.PipelineResponse {
		if len(task.Output) == 0 {
			continue
		}
		switch task.TaskType {
		case "asr":
			haveASR = true
			res.Text = strings.TrimSpace(task.Output[0].Source)
			if task.Config != nil && task.Config.Language.SourceLanguage != "" {
				detected := types.NormalizeLanguage(task.Config.Language.SourceLanguage)
				res.SourceLanguage = detected
				res.Metadata["detected_language"] = detected
			}
		case "translation":
			haveTranslation = true
			res.Translation = strings.TrimSpace(task.Output[0].Target)
		}
	}
	if !haveASR {
		return types.TranscriptionResult{}, errors.New("pipeline response has no asr output")
	}
	if translate && !haveTranslation {
		return types.TranscriptionResult{}, errors.New("pipeline response has no translation output")
	}
	if !translate {
		res.TargetLanguage = res.SourceLanguage
	}
	return res, nil
}

func (c *Client) translateError(err error) error {
	var ce *resilient.CallError
	switch {
	case errors.Is(err, resilient.ErrDecode):
		return types.NewError(types.KindUpstreamPermanent, types.CodeTranscriptionParseError, "unreadable speech service response", err)
	case errors.As(err, &ce):
		return types.NewError(ce.Kind, types.CodeTranscriptionServiceError, "speech service call failed", err)
	}
	c.log.WithError(err).Error("unexpected transcription failure")
	return types.NewError(types.KindInternalError, types.CodeInternalError, "transcription failed", err)
}

var (
	permanentHints = []string{"invalid audio", "unsupported audio", "audio format", "could not decode audio", "corrupt"}
	rateLimitHints = []string{"server busy", "too many requests", "rate limit", "quota"}
)

// Classify reads the provider's error text on top of the status-code policy.
func Classify(status int, body []byte) types.Outcome {
	outcome := resilient.DefaultClassify(status, body)
	if outcome == types.OutcomeSuccess {
		return outcome
	}
	text := strings.ToLower(string(body))
	for _, h := range permanentHints {
		if strings.Contains(text, h) {
			return types.OutcomePermanentError
		}
	}
	for _, h := range rateLimitHints {
		if strings.Contains(text, h) {
			return types.OutcomeRateLimited
		}
	}
	return outcome
}
