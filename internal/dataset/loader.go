// Package dataset reads batch manifests and writes batch results as
// spreadsheets.
package dataset

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry is one recording listed in a manifest.
type Entry struct {
	Row            int
	ID             string
	AudioPath      string
	SourceLanguage string
	TargetLanguage string
	Notes          string
}

// LoadManifest detects columns by header heuristics. Rows without an audio
// path are skipped. Relative paths resolve against the manifest's directory.
func LoadManifest(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	audioIdx, idIdx, sourceIdx, targetIdx, notesIdx := -1, -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case isIDHeader(h):
			if idIdx == -1 {
				idIdx = i
			}
		case strings.Contains(l, "audio") || strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "recording"):
			if audioIdx == -1 {
				audioIdx = i
			}
		case strings.Contains(l, "target"):
			if targetIdx == -1 {
				targetIdx = i
			}
		case strings.Contains(l, "source") || strings.Contains(l, "language"):
			if sourceIdx == -1 {
				sourceIdx = i
			}
		case strings.Contains(l, "note") || strings.Contains(l, "agenda"):
			if notesIdx == -1 {
				notesIdx = i
			}
		case strings.Contains(l, "meeting"):
			if idIdx == -1 {
				idIdx = i
			}
		}
	}
	if audioIdx == -1 {
		return nil, fmt.Errorf("no audio column in header %q", rows[0])
	}

	base := filepath.Dir(path)
	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}
	var out []Entry
	for i, r := range rows {
		if i == 0 {
			continue
		}
		e := Entry{
			Row:            i + 1,
			ID:             cell(r, idIdx),
			AudioPath:      cell(r, audioIdx),
			SourceLanguage: cell(r, sourceIdx),
			TargetLanguage: cell(r, targetIdx),
			Notes:          cell(r, notesIdx),
		}
		if e.AudioPath == "" {
			continue
		}
		if !filepath.IsAbs(e.AudioPath) {
			e.AudioPath = filepath.Join(base, e.AudioPath)
		}
		if e.ID == "" {
			e.ID = "row-" + strconv.Itoa(e.Row)
		}
		out = append(out, e)
	}
	return out, nil
}

// isIDHeader matches "ID", "Meeting ID", "recording_id", "RecordingId" and
// the like, so an identifier column never wins the audio match.
func isIDHeader(h string) bool {
	h = strings.TrimSpace(h)
	l := strings.ToLower(h)
	if l == "id" || l == "identifier" {
		return true
	}
	for _, suffix := range []string{" id", "_id", "-id"} {
		if strings.HasSuffix(l, suffix) {
			return true
		}
	}
	return strings.HasSuffix(h, "Id") || strings.HasSuffix(h, "ID")
}
