package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ppiankov/outagelens/internal/model"
)

// csvColumns holds resolved column positions; -1 means absent
type csvColumns struct {
	timestamp int
	current   int
	normal    int
	verified  int
	text      int
	title     int
	url       int
}

func resolveColumns(header []string) (csvColumns, error) {
	cols := csvColumns{timestamp: -1, current: -1, normal: -1, verified: -1, text: -1, title: -1, url: -1}
	dateCol := -1
	descCol := -1

	for i, name := range header {
		key := strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		lower := strings.ToLower(key)
		switch {
		case key == "timestamp":
			cols.timestamp = i
		case key == "currentIncidents":
			cols.current = i
		case key == "normalIncidents":
			cols.normal = i
		case lower == "verified":
			cols.verified = i
		case lower == "text":
			cols.text = i
		case lower == "description" && descCol < 0:
			descCol = i
		case lower == "title":
			cols.title = i
		case lower == "url" || lower == "user/url":
			if cols.url < 0 {
				cols.url = i
			}
		}
		if dateCol < 0 && strings.Contains(lower, "date") {
			dateCol = i
		}
	}

	if cols.timestamp < 0 {
		cols.timestamp = dateCol
	}
	if cols.text < 0 {
		cols.text = descCol
	}
	if cols.timestamp < 0 {
		return cols, ErrNoTimestampColumn
	}
	return cols, nil
}

// CSV normalizes a labeled incident log with a header row
func (n *Normalizer) CSV(r io.Reader) (Batch, error) {
	batch := Batch{Source: model.SourceCSV, Dropped: make(Drops)}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return batch, nil
	}
	if err != nil {
		return batch, fmt.Errorf("read csv header: %w", err)
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return batch, fmt.Errorf("csv header %v: %w", header, err)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Structurally broken rows are counted like any other malformed record
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				batch.Dropped.Add(model.SourceCSV, 1)
				continue
			}
			return batch, fmt.Errorf("read csv row: %w", err)
		}

		report, ok := csvReport(row, cols)
		if !ok {
			batch.Dropped.Add(model.SourceCSV, 1)
			continue
		}
		report.Index = len(batch.Reports)
		batch.Reports = append(batch.Reports, report)
	}

	n.logDrops(batch)
	return batch, nil
}

func csvReport(row []string, cols csvColumns) (model.Report, bool) {
	ts, err := ParseTimestamp(cell(row, cols.timestamp))
	if err != nil {
		return model.Report{}, false
	}

	report := model.Report{
		Timestamp:     ts,
		Title:         cell(row, cols.title),
		Text:          cell(row, cols.text),
		URL:           cell(row, cols.url),
		Source:        model.SourceCSV,
		SeverityRatio: SeverityRatio(counter(row, cols.current), counter(row, cols.normal)),
	}

	if cols.verified >= 0 {
		verified := strings.EqualFold(cell(row, cols.verified), "TRUE")
		report.Label = &verified
	}

	return report, true
}

// counter reads an incident counter, treating absent cells as 0 and unparsable ones as NaN
func counter(row []string, idx int) float64 {
	if idx < 0 {
		return 0
	}
	raw := cell(row, idx)
	if raw == "" {
		return 0
	}
	v, err := parseNumber(raw)
	if err != nil {
		return math.NaN()
	}
	return v
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
