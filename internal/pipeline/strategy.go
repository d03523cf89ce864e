package pipeline

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/outagelens/internal/model"
)

// Role says what a file-shaped input is used for
type Role string

const (
	RoleTraining   Role = "training"   // Labeled history the verifier is fit on
	RoleCandidates Role = "candidates" // Official feed scored for the best incident
)

// Strategy locates a file-shaped source in a provider's configuration
type Strategy struct {
	Role Role
	Path func(pc model.ProviderConfig) string
}

// Strategies maps file-shaped source kinds to where they are read from.
// Resolved once at startup; callers must not modify it.
var Strategies = map[model.Source]Strategy{
	model.SourceCSV: {
		Role: RoleTraining,
		Path: func(pc model.ProviderConfig) string { return pc.TrainingCSV },
	},
	model.SourceXML: {
		Role: RoleCandidates,
		Path: func(pc model.ProviderConfig) string { return pc.FeedXML },
	},
}

// SourceForPath guesses the source kind of an input file from its extension
func SourceForPath(path string) (model.Source, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return model.SourceCSV, true
	case ".xml", ".rss":
		return model.SourceXML, true
	default:
		return "", false
	}
}

// Results holds finished runs by provider. It is written by a single goroutine
// once the provider batch has drained.
type Results map[model.Provider]*model.ProviderResult

// NewResults indexes batch output by provider
func NewResults(results []*model.ProviderResult) Results {
	out := make(Results, len(results))
	for _, r := range results {
		if r != nil {
			out[r.Provider] = r
		}
	}
	return out
}

// Providers returns the providers in sorted order
func (r Results) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r))
	for p := range r {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Failed returns the providers whose run ended in an error, in sorted order
func (r Results) Failed() []model.Provider {
	var out []model.Provider
	for _, p := range r.Providers() {
		if r[p].Failed() {
			out = append(out, p)
		}
	}
	return out
}
