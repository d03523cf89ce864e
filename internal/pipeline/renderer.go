package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/llm"
	"github.com/ppiankov/outagelens/internal/model"
)

// maxRankedRows caps the candidate table in Markdown reports
const maxRankedRows = 10

// Renderer writes provider results as JSON and Markdown
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a new renderer
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// Paths are the files written for one provider result
type Paths struct {
	JSON     string
	Markdown string
	LLM      string // Empty when no summary was written
}

// RenderAll writes <dir>/<provider>.json, .md and, when a summary exists, .llm.md
func (r *Renderer) RenderAll(res *model.ProviderResult, dir string) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output directory: %w", err)
	}
	base := filepath.Join(dir, res.Provider.Slug())
	paths := Paths{JSON: base + ".json", Markdown: base + ".md"}

	if err := r.RenderJSON(res, paths.JSON); err != nil {
		return Paths{}, fmt.Errorf("render JSON: %w", err)
	}
	if err := r.RenderMarkdown(res, paths.Markdown); err != nil {
		return Paths{}, fmt.Errorf("render markdown: %w", err)
	}
	if res.LLM != nil && res.LLM.Enabled {
		paths.LLM = base + ".llm.md"
		if err := r.RenderLLMMarkdown(llm.RenderSeparateMarkdown(res.LLM), paths.LLM); err != nil {
			return Paths{}, fmt.Errorf("render LLM summary: %w", err)
		}
	}
	return paths, nil
}

// RenderJSON writes the result as indented JSON
func (r *Renderer) RenderJSON(res *model.ProviderResult, path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// RenderMarkdown writes the human-readable report
func (r *Renderer) RenderMarkdown(res *model.ProviderResult, path string) error {
	return os.WriteFile(path, []byte(r.Markdown(res)), 0o644)
}

// RenderLLMMarkdown writes an already rendered LLM summary
func (r *Renderer) RenderLLMMarkdown(markdown, path string) error {
	return os.WriteFile(path, []byte(markdown), 0o644)
}

// Markdown renders the report body
func (r *Renderer) Markdown(res *model.ProviderResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Outage report: %s\n\n", res.Provider)
	fmt.Fprintf(&b, "- **Run:** %s\n", res.RunID)
	fmt.Fprintf(&b, "- **Started:** %s\n", res.StartedAt.Format(time.RFC3339))
	if res.Failed() {
		fmt.Fprintf(&b, "\n**Run failed:** %s\n", res.Err)
		return r.footer(&b)
	}

	b.WriteString("\n## Best candidate\n\n")
	if best := res.Score.Best; best != nil {
		fmt.Fprintf(&b, "**%s** %s\n\n", best.Report.Time().Format(time.RFC3339), reportText(best.Report))
		fmt.Fprintf(&b, "- Combined score: %.3f\n", best.Combined)
		fmt.Fprintf(&b, "- P(verified): %.3f\n", best.Probability)
		fmt.Fprintf(&b, "- Normalized severity: %.3f (ratio %.2f)\n", best.RatioNorm, best.Report.SeverityRatio)
		if best.Report.URL != "" {
			fmt.Fprintf(&b, "- Source: %s\n", best.Report.URL)
		}
	} else {
		b.WriteString("_No candidate qualified._\n")
	}

	if len(res.Score.Ranked) > 1 {
		b.WriteString("\n## Ranked candidates\n\n")
		b.WriteString("| # | Time | Combined | P(verified) | Severity | Report |\n")
		b.WriteString("|---|------|----------|-------------|----------|--------|\n")
		for i, c := range res.Score.Ranked {
			if i >= maxRankedRows {
				fmt.Fprintf(&b, "\n_... and %d more_\n", len(res.Score.Ranked)-maxRankedRows)
				break
			}
			fmt.Fprintf(&b, "| %d | %s | %.3f | %.3f | %.3f | %s |\n",
				i+1, c.Report.Time().Format("2006-01-02 15:04"), c.Combined, c.Probability, c.RatioNorm,
				escapeCell(reportText(c.Report)))
		}
	}

	if m := res.Metrics; m != nil {
		b.WriteString("\n## Verifier evaluation (held-out split)\n\n")
		fmt.Fprintf(&b, "- Accuracy: %.3f\n", m.Accuracy)
		fmt.Fprintf(&b, "- Balanced accuracy: %.3f\n", m.BalancedAccuracy)
		fmt.Fprintf(&b, "- Train / test: %d / %d\n", m.TrainSize, m.TestSize)
		fmt.Fprintf(&b, "- Features: %s\n", strings.Join(m.Features, ", "))
		fmt.Fprintf(&b, "- Confusion: TN=%d FP=%d FN=%d TP=%d\n",
			m.Confusion[0][0], m.Confusion[0][1], m.Confusion[1][0], m.Confusion[1][1])
	}

	if res.Match != nil {
		fmt.Fprintf(&b, "\n## Corroboration (%s)\n\n", res.Match.Granularity)
		if len(res.Match.Windows) == 0 {
			b.WriteString("_Official feed and community evidence do not overlap._\n")
		}
		for _, w := range res.Match.Windows {
			fmt.Fprintf(&b, "- **%s**: %d official, %d community\n", w.Label, len(w.A), len(w.B))
		}
	}

	if len(res.Score.Signals) > 0 {
		b.WriteString("\n## Signals\n\n")
		for _, s := range res.Score.Signals {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Severity, s.Type, s.Description)
		}
	}

	if res.LLM != nil && res.LLM.Enabled {
		fmt.Fprintf(&b, "\nAn LLM summary is available in %s.llm.md\n", res.Provider.Slug())
	}
	return r.footer(&b)
}

// RenderSummary prints a one-line outcome per provider
func (r *Renderer) RenderSummary(w io.Writer, res *model.ProviderResult) {
	switch {
	case res.Failed():
		fmt.Fprintf(w, "✗ %s: %s\n", res.Provider, res.Err)
	case res.Score.Best == nil:
		fmt.Fprintf(w, "✓ %s: no qualifying candidate\n", res.Provider)
	default:
		granularity := model.GranularityNone
		if res.Match != nil {
			granularity = res.Match.Granularity
		}
		fmt.Fprintf(w, "✓ %s: best %.3f at %s (match: %s)\n",
			res.Provider, res.Score.Best.Combined, res.Score.Best.Report.Time().Format(time.RFC3339), granularity)
	}
}

func (r *Renderer) footer(b *strings.Builder) string {
	if r.includeFooter {
		b.WriteString("\n---\n_Scores come from the verifier and severity data only; generated text never changes them._\n")
	}
	return b.String()
}

func reportText(rep model.Report) string {
	switch {
	case rep.Title != "":
		return rep.Title
	case rep.Text != "":
		return rep.Text
	default:
		return "(no text)"
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
