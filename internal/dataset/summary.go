package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"meeting-assistant-go/internal/aggregator"
	"meeting-assistant-go/internal/types"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// Result pairs a manifest entry with the response its run produced.
type Result struct {
	Entry    Entry
	Response types.Response
}

var resultHeader = []any{
	"ID", "Audio", "Status", "Source language", "Target language", "Title",
	"Summary", "Key points", "Action items", "Key decisions", "Error stage",
	"Error code", "Error", "Attempts", "Duration (ms)", "Transcript",
}

// WriteResults writes one row per run plus a Summary sheet built from in.
func WriteResults(path string, results []Result, in aggregator.Insight) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range results {
		row := resultRow(r)
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cellRef, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	for i, row := range summaryRows(in) {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cellRef, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func resultRow(r Result) []any {
	resp := r.Response
	var title, summary, points, items, decisions, transcript string
	if s := resp.Summary; s != nil {
		title = s.Title
		summary = s.Summary
		points = strings.Join(s.KeyPoints, "\n")
		decisions = strings.Join(s.KeyDecisions, "\n")
		lines := make([]string, 0, len(s.ActionItems))
		for _, a := range s.ActionItems {
			lines = append(lines, fmt.Sprintf("%s (%s, %s, due %s)", a.Item, a.Assignee, a.Priority, a.DueDate))
		}
		items = strings.Join(lines, "\n")
	}
	if resp.Transcription != nil {
		transcript = resp.Transcription.Content()
	}
	return []any{
		r.Entry.ID, r.Entry.AudioPath, string(resp.Status),
		resp.Metadata.SourceLanguage, resp.Metadata.TargetLanguage, title,
		summary, points, items, decisions, string(resp.ErrorStage),
		string(resp.ErrorCode), resp.Error, len(resp.Attempts), resp.DurationMs, transcript,
	}
}

func summaryRows(in aggregator.Insight) [][]any {
	rows := [][]any{
		{"Metric", "Value"},
		{"Runs", in.Runs},
		{"Success rate", in.SuccessRate()},
		{"Runs with retries", in.RetriedRuns},
		{"Action items", in.ActionItems},
		{"Mean duration (ms)", in.MeanDuration.Milliseconds()},
		{"P95 duration (ms)", in.P95Duration.Milliseconds()},
	}
	for _, group := range []struct {
		prefix string
		counts map[string]int
	}{
		{"status", in.StatusCounts},
		{"error stage", in.ErrorStageCounts},
		{"error code", in.ErrorCodeCounts},
		{"language", in.LanguageCounts},
		{"attempts", in.AttemptsByService},
	} {
		keys := make([]string, 0, len(group.counts))
		for k := range group.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, []any{group.prefix + ": " + k, group.counts[k]})
		}
	}
	return rows
}
