package aggregator

import (
	"sort"
	"time"

	"meeting-assistant-go/internal/types"
)

// Insight summarizes a batch of runs.
type Insight struct {
	Runs              int            `json:"runs"`
	StatusCounts      map[string]int `json:"statusCounts"`
	ErrorStageCounts  map[string]int `json:"errorStageCounts"`
	ErrorCodeCounts   map[string]int `json:"errorCodeCounts"`
	LanguageCounts    map[string]int `json:"languageCounts"`
	AttemptsByService map[string]int `json:"attemptsByService"`
	RetriedRuns       int            `json:"retriedRuns"`
	ActionItems       int            `json:"actionItems"`
	MeanDuration      time.Duration  `json:"meanDurationNs"`
	P95Duration       time.Duration  `json:"p95DurationNs"`
}

// SuccessRate is the share of runs that produced a usable transcript.
func (in Insight) SuccessRate() float64 {
	if in.Runs == 0 {
		return 0
	}
	ok := in.StatusCounts[string(types.StatusComplete)] + in.StatusCounts[string(types.StatusPartial)]
	return float64(ok) / float64(in.Runs)
}

func Aggregate(responses []types.Response) Insight {
	in := Insight{
		Runs:              len(responses),
		StatusCounts:      map[string]int{},
		ErrorStageCounts:  map[string]int{},
		ErrorCodeCounts:   map[string]int{},
		LanguageCounts:    map[string]int{},
		AttemptsByService: map[string]int{},
	}
	durations := make([]time.Duration, 0, len(responses))
	var total time.Duration
	for _, r := range responses {
		in.StatusCounts[string(r.Status)]++
		if r.ErrorStage != "" {
			in.ErrorStageCounts[string(r.ErrorStage)]++
		}
		if r.ErrorCode != "" {
			in.ErrorCodeCounts[string(r.ErrorCode)]++
		}
		if r.Metadata.SourceLanguage != "" {
			in.LanguageCounts[r.Metadata.SourceLanguage]++
		}
		perService := map[string]int{}
		for _, a := range r.Attempts {
			in.AttemptsByService[a.Service]++
			perService[a.Service]++
		}
		for _, n := range perService {
			if n > 1 {
				in.RetriedRuns++
				break
			}
		}
		if r.Summary != nil {
			in.ActionItems += len(r.Summary.ActionItems)
		}
		d := time.Duration(r.DurationMs) * time.Millisecond
		durations = append(durations, d)
		total += d
	}
	if len(durations) > 0 {
		in.MeanDuration = total / time.Duration(len(durations))
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		idx := (len(durations)*95+99)/100 - 1
		in.P95Duration = durations[idx]
	}
	return in
}
