package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"meeting-assistant-go/internal/types"
)

var transitions = map[types.Stage]types.Stage{
	types.StageCreated:      types.StageNormalizing,
	types.StageNormalizing:  types.StageTranscribing,
	types.StageTranscribing: types.StageSummarizing,
	types.StageSummarizing:  types.StageComplete,
}

// Run is the state of one request moving through the pipeline. It is owned
// by a single goroutine and discarded once the response is written.
type Run struct {
	ID            string
	Request       types.ProcessRequest
	Audio         *types.NormalizedAudio
	Transcription *types.TranscriptionResult
	Summary       *types.SummaryResult
	State         types.Stage
	Status        types.Status
	Err           *types.Error
	Attempts      []types.AttemptRecord
	Started       time.Time
	Finished      time.Time

	observer Observer
}

func newRun(req types.ProcessRequest, obs Observer) *Run {
	req.Languages = req.Languages.Normalized()
	return &Run{
		ID:       uuid.NewString(),
		Request:  req,
		State:    types.StageCreated,
		Status:   types.StatusPending,
		Attempts: []types.AttemptRecord{},
		Started:  time.Now(),
		observer: obs,
	}
}

// Record stamps the attempt with the current stage and appends it.
func (r *Run) Record(a types.AttemptRecord) {
	a.Stage = r.State
	r.Attempts = append(r.Attempts, a)
	if r.observer != nil {
		r.observer.ObserveAttempt(a)
	}
}

func (r *Run) advance(to types.Stage) {
	if transitions[r.State] != to {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.State, to))
	}
	r.State = to
}

func (r *Run) fail(err *types.Error) {
	err.Stage = r.State
	r.Err = err
	r.State = types.StageFailed
	r.Status = types.StatusFailed
}

// degrade keeps the transcription and marks the run partial.
func (r *Run) degrade(err *types.Error) {
	err.Stage = r.State
	r.Err = err
	r.State = types.StageFailed
	r.Status = types.StatusPartial
}

func (r *Run) complete() {
	r.advance(types.StageComplete)
	r.Status = types.StatusComplete
}

func (r *Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Response renders the run for the caller.
func (r *Run) Response() types.Response {
	resp := types.Response{
		RunID:         r.ID,
		Status:        r.Status,
		Partial:       r.Status == types.StatusPartial,
		Transcription: r.Transcription,
		Summary:       r.Summary,
		Attempts:      r.Attempts,
		Metadata: types.ResponseMetadata{
			SourceLanguage:          r.Request.Languages.Source,
			TargetLanguage:          r.Request.Languages.Target,
			AudioFormat:             r.Request.Audio.Format,
			PreMeetingNotesProvided: r.Request.PreMeetingNotes != "",
			ProcessedAt:             r.Finished.UTC().Format(time.RFC3339),
		},
		DurationMs: r.Duration().Milliseconds(),
	}
	if r.Audio != nil {
		resp.Metadata.Decoder = r.Audio.Decoder
		resp.Metadata.AudioFormat = r.Audio.SourceFormat
	}
	if r.Transcription != nil {
		resp.Metadata.SourceLanguage = r.Transcription.SourceLanguage
	}
	if r.Err != nil {
		resp.ErrorKind = r.Err.Kind
		resp.ErrorCode = r.Err.Code
		resp.ErrorStage = r.Err.Stage
		resp.Error = r.Err.Error()
	}
	return resp
}

func (r *Run) HTTPStatus() int {
	if r.Status == types.StatusComplete || r.Status == types.StatusPartial {
		return http.StatusOK
	}
	return StatusFor(r.Err)
}

// StatusFor maps a failure onto the HTTP status returned to the caller.
func StatusFor(err *types.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.Kind {
	case types.KindInputError:
		switch err.Code {
		case types.CodeUnsupportedFormat:
			return http.StatusUnsupportedMediaType
		case types.CodePayloadTooLarge:
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case types.KindUpstreamTransient, types.KindUpstreamPermanent:
		return http.StatusBadGateway
	case types.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
