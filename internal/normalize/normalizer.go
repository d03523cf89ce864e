// Package normalize turns raw CSV rows, RSS items and scraped records into
// model.Report values. Records that cannot be resolved to a timestamp are
// dropped and counted per source, never silently discarded.
package normalize

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrUnknownSource is returned when no normalizer is registered for a source kind
	ErrUnknownSource = errors.New("unknown source")

	// ErrNoTimestampColumn is returned when a CSV header has no usable timestamp column
	ErrNoTimestampColumn = errors.New("no timestamp column")
)

// RawRecord is one scraped record as collected from the web
type RawRecord map[string]string

// Get returns the first non-empty value among keys
func (r RawRecord) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// Drops counts discarded records per source
type Drops map[model.Source]int

// Add records n dropped records for a source
func (d Drops) Add(source model.Source, n int) {
	if n <= 0 {
		return
	}
	d[source] += n
}

// Merge adds all counts from other
func (d Drops) Merge(other Drops) {
	for s, n := range other {
		d.Add(s, n)
	}
}

// Total returns the number of dropped records across sources
func (d Drops) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// String renders counts in stable source order
func (d Drops) String() string {
	keys := make([]string, 0, len(d))
	for s := range d {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, d[model.Source(k)]))
	}
	return strings.Join(parts, " ")
}

// Batch is the output of normalizing one input
type Batch struct {
	Source  model.Source
	Reports []model.Report
	Dropped Drops
}

// Append adds reports from another batch, re-indexing them after the existing ones
func (b *Batch) Append(other Batch) {
	if b.Dropped == nil {
		b.Dropped = make(Drops)
	}
	for _, r := range other.Reports {
		r.Index = len(b.Reports)
		b.Reports = append(b.Reports, r)
	}
	b.Dropped.Merge(other.Dropped)
}

// FileFunc normalizes a whole file-shaped input
type FileFunc func(n *Normalizer, r io.Reader) (Batch, error)

// Table maps file-shaped source kinds to their normalizer. It is resolved once at
// startup; callers must not modify it.
var Table = map[model.Source]FileFunc{
	model.SourceCSV: (*Normalizer).CSV,
	model.SourceXML: (*Normalizer).XML,
}

// Normalizer converts raw inputs into reports
type Normalizer struct {
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithClock sets the reference clock for relative time expressions
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// WithLogger sets the logger used to report dropped records
func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// New creates a new normalizer
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// File normalizes a file-shaped input using the normalizer registered for source
func (n *Normalizer) File(source model.Source, r io.Reader) (Batch, error) {
	fn, ok := Table[source]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return fn(n, r)
}

// Records normalizes scraped records of one source kind
func (n *Normalizer) Records(source model.Source, records []RawRecord) (Batch, error) {
	if !source.Scraped() {
		return Batch{}, fmt.Errorf("%w: %s is not a scraped source", ErrUnknownSource, source)
	}

	batch := Batch{Source: source, Dropped: make(Drops)}
	ref := n.now().UTC()

	for _, rec := range records {
		report, ok := n.record(source, rec, ref)
		if !ok {
			batch.Dropped.Add(source, 1)
			continue
		}
		report.Index = len(batch.Reports)
		batch.Reports = append(batch.Reports, report)
	}

	n.logDrops(batch)
	return batch, nil
}

func (n *Normalizer) record(source model.Source, rec RawRecord, ref time.Time) (model.Report, bool) {
	ts, ok := int64(0), false

	for _, key := range []string{"timestamp", "datetime", "date"} {
		if raw := rec.Get(key); raw != "" {
			if t, err := ParseTimestamp(raw); err == nil {
				ts, ok = t, true
				break
			}
		}
	}
	if !ok {
		if human := rec.Get("human_time", "time_text"); human != "" {
			if t, resolved := ResolveRelative(human, ref); resolved {
				ts, ok = t.Unix(), true
			}
		}
	}
	if !ok {
		return model.Report{}, false
	}

	text := rec.Get("description", "text", "summary", "status")
	report := model.Report{
		Timestamp:     ts,
		Title:         rec.Get("title"),
		Text:          text,
		URL:           rec.Get("url", "link"),
		Source:        source,
		SeverityRatio: SeverityFromText(text),
	}
	if raw := rec.Get("count"); raw != "" {
		if c, err := parseNumber(raw); err == nil {
			report.Count = int(c)
		}
	}
	return report, true
}

func (n *Normalizer) logDrops(batch Batch) {
	if total := batch.Dropped.Total(); total > 0 {
		n.logger.Warn("dropped malformed records",
			zap.String("source", string(batch.Source)),
			zap.Int("dropped", total),
			zap.Int("kept", len(batch.Reports)))
	}
}
