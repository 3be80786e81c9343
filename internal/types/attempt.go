package types

import "time"

// Outcome classifies a single outbound attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeTransientError Outcome = "transient_error"
	OutcomePermanentError Outcome = "permanent_error"
)

// Retriable reports whether another attempt may succeed.
func (o Outcome) Retriable() bool {
	switch o {
	case OutcomeTimeout, OutcomeRateLimited, OutcomeTransientError:
		return true
	}
	return false
}

type AttemptRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	Stage      Stage         `json:"stage"`
	Service    string        `json:"service"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"durationNs"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
}
