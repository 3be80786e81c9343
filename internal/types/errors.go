package types

import (
	"errors"
	"fmt"
)

// Kind is the caller-facing failure class.
type Kind string

const (
	KindInputError        Kind = "input_error"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamPermanent Kind = "upstream_permanent"
	KindDeadlineExceeded  Kind = "deadline_exceeded"
	KindInternalError     Kind = "internal_error"
)

// Code names the concrete failure inside a Kind.
type Code string

const (
	CodeUnsupportedFormat         Code = "unsupported_format"
	CodeEmptyAudio                Code = "empty_audio"
	CodeDecodeError               Code = "decode_error"
	CodeTranscriptionServiceError Code = "transcription_service_error"
	CodeTranscriptionParseError   Code = "transcription_parse_error"
	CodeSummaryServiceError       Code = "summary_service_error"
	CodeSummaryParseError         Code = "summary_parse_error"
	CodeInvalidRequest            Code = "invalid_request"
	CodePayloadTooLarge           Code = "payload_too_large"
	CodeDeadlineExceeded          Code = "deadline_exceeded"
	CodeDecoderUnavailable        Code = "decoder_unavailable"
	CodeInternalError             Code = "internal_error"
)

// Stage is a pipeline run state.
type Stage string

const (
	StageCreated      Stage = "created"
	StageNormalizing  Stage = "normalizing"
	StageTranscribing Stage = "transcribing"
	StageSummarizing  Stage = "summarizing"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

type Error struct {
	Kind    Kind
	Code    Code
	Stage   Stage
	Message string
	Err     error
}

func NewError(kind Kind, code Code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	s := string(e.Code)
	if e.Stage != "" {
		s = string(e.Stage) + ": " + s
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InputErrorf builds an input_error with a formatted message.
func InputErrorf(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindInputError, Code: code, Message: fmt.Sprintf(format, args...)}
}
