package types

// Status is the caller-facing outcome of a pipeline run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Response is the object returned for every process request.
type Response struct {
	RunID         string               `json:"runId"`
	Status        Status               `json:"status"`
	Partial       bool                 `json:"partial"`
	Transcription *TranscriptionResult `json:"transcription,omitempty"`
	Summary       *SummaryResult       `json:"summary,omitempty"`
	ErrorKind     Kind                 `json:"errorKind,omitempty"`
	ErrorCode     Code                 `json:"errorCode,omitempty"`
	ErrorStage    Stage                `json:"errorStage,omitempty"`
	Error         string               `json:"error,omitempty"`
	Attempts      []AttemptRecord      `json:"attempts"`
	Metadata      ResponseMetadata     `json:"metadata"`
	DurationMs    int64                `json:"durationMs"`
}

type ResponseMetadata struct {
	SourceLanguage          string `json:"sourceLanguage"`
	TargetLanguage          string `json:"targetLanguage"`
	AudioFormat             string `json:"audioFormat,omitempty"`
	Decoder                 string `json:"decoder,omitempty"`
	PreMeetingNotesProvided bool   `json:"preMeetingNotesProvided"`
	ProcessedAt             string `json:"processedAt"`
}

// FailureResponse builds a response for a request rejected before a run
// could start.
func FailureResponse(runID string, err *Error) Response {
	return Response{
		RunID:      runID,
		Status:     StatusFailed,
		ErrorKind:  err.Kind,
		ErrorCode:  err.Code,
		ErrorStage: err.Stage,
		Error:      err.Error(),
		Attempts:   []AttemptRecord{},
	}
}
