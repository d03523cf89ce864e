package model

import (
	"time"

	"cloud.google.com/go/civil"
)

// Source identifies where a report came from
type Source string

const (
	SourceCSV           Source = "csv"            // Labeled incident log
	SourceXML           Source = "xml"            // RSS-like status feed
	SourceForum         Source = "forum"          // Community forum thread or reply
	SourceOutageTracker Source = "outage-tracker" // Crowd-sourced report counter
	SourceServiceStatus Source = "service-status" // Third-party status page
)

// Sources lists every known source kind in a stable order
var Sources = []Source{SourceCSV, SourceXML, SourceForum, SourceOutageTracker, SourceServiceStatus}

// Valid reports whether s is a known source kind
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Scraped reports whether the source is collected from the web rather than a file
func (s Source) Scraped() bool {
	return s == SourceForum || s == SourceOutageTracker || s == SourceServiceStatus
}

// Report is a single normalized incident observation.
// Reports are immutable once normalized; later stages return index-aligned annotations.
type Report struct {
	Index         int     `json:"index"`           // Position in the normalized batch
	Timestamp     int64   `json:"timestamp"`       // Seconds since epoch, UTC
	Title         string  `json:"title,omitempty"` // Headline when the source has one
	Text          string  `json:"text,omitempty"`  // Free text, may be empty
	URL           string  `json:"url,omitempty"`   // Link back to the origin
	Source        Source  `json:"source"`          // Source kind
	Label         *bool   `json:"label,omitempty"` // Ground-truth "verified", training data only
	SeverityRatio float64 `json:"severity_ratio"`  // current/normal incidents, 0 when unknown
	Count         int     `json:"count,omitempty"` // Report count for outage-tracker records
}

// Time returns the report timestamp as a UTC time
func (r Report) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// Date returns the calendar date of the report in loc
func (r Report) Date(loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(time.Unix(r.Timestamp, 0).In(loc))
}

// Verified reports the ground-truth label, treating a missing label as false
func (r Report) Verified() bool {
	return r.Label != nil && *r.Label
}

// NoiseCluster is the cluster id assigned to reports outside any dense group
const NoiseCluster = -1

// Cluster summarizes one temporal cluster of reports
type Cluster struct {
	ID          int          `json:"id"`           // -1 is the noise pseudo-cluster
	Size        int          `json:"size"`         // Number of member reports
	MemberDates []civil.Date `json:"member_dates"` // Distinct member dates, ascending
	Frequency   float64      `json:"frequency"`    // size / max(1, distinct days)
}

// FeatureVector is an ordered numeric vector whose columns are named by a feature schema
type FeatureVector []float64

// Annotated pairs a report with the annotations later stages computed for it
type Annotated struct {
	Report    Report        `json:"report"`
	ClusterID int           `json:"cluster_id"`
	Features  FeatureVector `json:"features,omitempty"`
}

// Candidate is a scored report competing for "best incident"
type Candidate struct {
	Index       int     `json:"index"`       // Position in the scoring batch
	Report      Report  `json:"report"`
	Probability float64 `json:"probability"` // Classifier P(verified)
	RatioNorm   float64 `json:"ratio_norm"`  // Normalized severity ratio
	Combined    float64 `json:"combined"`    // alpha*p + (1-alpha)*ratio_norm
}

// Score is the transparent ranking outcome for one provider
type Score struct {
	Best    *Candidate  `json:"best,omitempty"`
	Ranked  []Candidate `json:"ranked"`
	Signals []Signal    `json:"signals"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"` // Formulas and inputs
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalCombinedScore  SignalType = "combined_score"  // How the best candidate was chosen
	SignalSeverityBias   SignalType = "severity_bias"   // Severity folded into cluster_size
	SignalDroppedRecords SignalType = "dropped_records" // Malformed input discarded during normalization
	SignalNoCandidates   SignalType = "no_candidates"   // Nothing qualified for ranking
	SignalClassImbalance SignalType = "class_imbalance" // Training labels were lopsided
	SignalWeekFallback   SignalType = "week_fallback"   // Sources only overlapped by ISO week
	SignalTrackerSpike   SignalType = "tracker_spike"   // Outage tracker count crossed its threshold
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// ClassMetrics holds per-class evaluation figures
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// EvalMetrics is computed on the held-out split only
type EvalMetrics struct {
	Accuracy         float64         `json:"accuracy"`
	BalancedAccuracy float64         `json:"balanced_accuracy"`
	Classes          [2]ClassMetrics `json:"classes"`   // [0]=unverified, [1]=verified
	Confusion        [2][2]int       `json:"confusion"` // rows=true, cols=predicted
	TrainSize        int             `json:"train_size"`
	TestSize         int             `json:"test_size"`
	Features         []string        `json:"features"`
}

// Granularity is the resolution at which two sources were found to overlap
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
	GranularityNone Granularity = "none"
)

// MatchWindow is a time window where two sources agree
type MatchWindow struct {
	Granularity Granularity `json:"granularity"`
	Start       civil.Date  `json:"start"`
	End         civil.Date  `json:"end"` // Inclusive
	ISOYear     int         `json:"iso_year,omitempty"`
	ISOWeek     int         `json:"iso_week,omitempty"`
	Label       string      `json:"label"`
	A           []Report    `json:"a"`
	B           []Report    `json:"b"`
}

// MatchResult is the outcome of matching two sources
type MatchResult struct {
	Granularity Granularity   `json:"granularity"`
	Windows     []MatchWindow `json:"windows"`
}

// LLMSummary contains an optional LLM-generated summary
// CRITICAL: This never affects scoring and is clearly separated
type LLMSummary struct {
	Enabled        bool     `json:"enabled"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	StrictEvidence bool     `json:"strict_evidence"`
	SummaryMD      string   `json:"summary_md,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ProviderResult is everything one pipeline run produced for one provider
type ProviderResult struct {
	Provider   Provider       `json:"provider"`
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Dropped    map[Source]int `json:"dropped,omitempty"`
	Clusters   []Cluster      `json:"clusters,omitempty"`
	Metrics    *EvalMetrics   `json:"metrics,omitempty"`
	Score      Score          `json:"score"`
	Match      *MatchResult   `json:"match,omitempty"`
	Evidence   []Annotated    `json:"evidence,omitempty"`
	LLM        *LLMSummary    `json:"llm,omitempty"` // Never affects score
	Err        string         `json:"error,omitempty"`
	Error      error          `json:"-"`
}

// Failed reports whether the run ended in an error
func (r *ProviderResult) Failed() bool {
	return r.Error != nil
}
