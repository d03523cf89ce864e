package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Summarize describes one provider's grouped evidence with strict evidence mode
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// SummarizeRequest contains the input for LLM summarization
type SummarizeRequest struct {
	// Input is the serializable grouping of windows and clusters to describe
	Input Input

	// EvidenceURLs is the STRICT allowlist of URLs the LLM can cite
	EvidenceURLs []string

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// SummarizeResponse contains the LLM's summary output
type SummarizeResponse struct {
	Summary    string
	CitedURLs  []string // URLs the LLM actually cited
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai" or "" (disabled)
	Provider string

	// Model name (provider-specific)
	Model string

	APIKey  string
	BaseURL string // OpenAI-compatible endpoint

	// Timeout for API requests
	Timeout int // seconds

	// StrictEvidence rejects summaries that cite URLs outside the evidence
	StrictEvidence bool

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "", // Disabled by default
		Timeout:        30,
		StrictEvidence: true,
		MaxTokens:      800,
	}
}

// BuildPrompt constructs the default prompt for summarizing grouped evidence
func BuildPrompt(in Input, evidenceURLs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are describing telecom outage evidence for %s. Scores were computed independently; do not re-score or contradict them.

RULES:
1. You MUST ONLY cite URLs from this allowed list:
%s

2. DO NOT infer, speculate, or cite external sources beyond this list.
3. Describe what the sources report and when. If the evidence is thin, say so.

Best candidate: %s
Match granularity: %s

`, in.Provider, joinURLs(evidenceURLs), bestLine(in), in.Granularity)

	if len(in.Windows) > 0 {
		b.WriteString("Corroborated windows:\n")
		for i, w := range in.Windows {
			if i >= 5 {
				fmt.Fprintf(&b, "... and %d more windows\n", len(in.Windows)-5)
				break
			}
			fmt.Fprintf(&b, "- %s (%d official, %d community reports)\n", w.Label, len(w.Official), len(w.Community))
			for _, m := range firstN(append(append([]Member(nil), w.Official...), w.Community...), 3) {
				fmt.Fprintf(&b, "  * %s [%s] %s\n", m.Time, m.Source, m.Text)
			}
		}
		b.WriteString("\n")
	}

	if len(in.Clusters) > 0 {
		b.WriteString("Temporal clusters in the official feed:\n")
		for i, c := range in.Clusters {
			if i >= 5 {
				fmt.Fprintf(&b, "... and %d more clusters\n", len(in.Clusters)-5)
				break
			}
			fmt.Fprintf(&b, "- cluster %d: %d reports\n", c.ID, len(c.Members))
			for _, m := range firstN(c.Members, 2) {
				fmt.Fprintf(&b, "  * %s %s\n", m.Time, m.Text)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Provide a 3-4 sentence summary of the outage evidence.")
	return b.String()
}

func bestLine(in Input) string {
	if in.Best == nil {
		return "none"
	}
	return fmt.Sprintf("%s %q (combined score %.3f)", in.Best.Time, in.Best.Text, in.Best.Score)
}

func firstN(members []Member, n int) []Member {
	if len(members) > n {
		return members[:n]
	}
	return members
}

func joinURLs(urls []string) string {
	if len(urls) == 0 {
		return "(No evidence URLs available)"
	}
	var b strings.Builder
	for i, url := range urls {
		if i >= 20 { // Limit to first 20 to avoid token bloat
			fmt.Fprintf(&b, "\n... and %d more URLs", len(urls)-20)
			break
		}
		fmt.Fprintf(&b, "\n- %s", url)
	}
	return b.String()
}
