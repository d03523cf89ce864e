package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	name      string
	available bool
	response  *SummarizeResponse
	err       error
	lastReq   SummarizeRequest
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.available
}

func at(h int) int64 {
	return time.Date(2025, time.May, 17, h, 0, 0, 0, time.UTC).Unix()
}

func sampleResult() *model.ProviderResult {
	official := model.Report{Timestamp: at(13), Title: "Wireless outage", Source: model.SourceXML, URL: "https://status.example/1"}
	forum := model.Report{Timestamp: at(14), Title: "No signal", Source: model.SourceForum, URL: "https://forum.example/t/9"}
	return &model.ProviderResult{
		Provider: model.ProviderBell,
		Score:    model.Score{Best: &model.Candidate{Report: official, Combined: 0.8}},
		Match: &model.MatchResult{
			Granularity: model.GranularityDay,
			Windows:     []model.MatchWindow{{Label: "MAY 17 2025", A: []model.Report{official}, B: []model.Report{forum}}},
		},
		Evidence: []model.Annotated{
			{Report: model.Report{Timestamp: at(15), Title: "later", URL: "https://status.example/2"}, ClusterID: 1},
			{Report: model.Report{Timestamp: at(2), Title: "stray"}, ClusterID: model.NoiseCluster},
			{Report: official, ClusterID: 0},
			{Report: model.Report{Timestamp: at(12), Title: "earlier"}, ClusterID: 1},
		},
	}
}

func TestBuildInput_GroupsDeterministically(t *testing.T) {
	in := BuildInput(sampleResult())

	if in.Granularity != model.GranularityDay || len(in.Windows) != 1 {
		t.Fatalf("Unexpected windows: %+v", in.Windows)
	}
	if len(in.Clusters) != 2 || in.Clusters[0].ID != 0 || in.Clusters[1].ID != 1 {
		t.Fatalf("Expected clusters 0 and 1 without noise, got %+v", in.Clusters)
	}
	if in.Clusters[1].Members[0].Text != "earlier" {
		t.Errorf("cluster members should be in time order, got %+v", in.Clusters[1].Members)
	}
	if in.Best == nil || in.Best.Score != 0.8 {
		t.Errorf("best = %+v", in.Best)
	}

	urls := in.URLs()
	want := []string{"https://status.example/1", "https://forum.example/t/9", "https://status.example/2"}
	if strings.Join(urls, " ") != strings.Join(want, " ") {
		t.Errorf("URLs = %v, want %v", urls, want)
	}
}

func TestNewSummarizer_DisabledProvider(t *testing.T) {
	summarizer, err := NewSummarizer(Config{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summarizer.IsEnabled() || summarizer.ProviderName() != "" {
		t.Error("Expected summarizer to be disabled")
	}

	summary, err := summarizer.GenerateSummary(context.Background(), sampleResult())
	if err != nil || summary != nil {
		t.Errorf("Disabled summarizer should return nothing, got %v, %v", summary, err)
	}
}

func TestSummarizer_GenerateSummary_ProviderUnavailable(t *testing.T) {
	summarizer := &Summarizer{provider: &MockProvider{name: "test-provider"}, config: Config{StrictEvidence: true}}

	summary, err := summarizer.GenerateSummary(context.Background(), sampleResult())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summary == nil || summary.Enabled {
		t.Fatalf("Expected a disabled summary, got %+v", summary)
	}
	if len(summary.Warnings) == 0 || !strings.Contains(summary.Warnings[0], "not available") {
		t.Errorf("Expected warning about provider unavailability, got %v", summary.Warnings)
	}
}

func TestSummarizer_GenerateSummary_Success(t *testing.T) {
	mock := &MockProvider{
		name:      "test-provider",
		available: true,
		response: &SummarizeResponse{
			Summary:    "Bell wireless was down on May 17.",
			CitedURLs:  []string{"https://forum.example/t/9"},
			Model:      "gpt-4o-mini",
			TokensUsed: 150,
		},
	}
	summarizer := &Summarizer{provider: mock, config: Config{StrictEvidence: true, MaxTokens: 300}}

	summary, err := summarizer.GenerateSummary(context.Background(), sampleResult())
	if err != nil {
		t.Fatalf("GenerateSummary failed: %v", err)
	}
	if !summary.Enabled || summary.SummaryMD != "Bell wireless was down on May 17." || summary.Model != "gpt-4o-mini" {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if len(mock.lastReq.EvidenceURLs) != 3 || mock.lastReq.MaxTokens != 300 {
		t.Errorf("Unexpected request: %+v", mock.lastReq)
	}
	if !strings.Contains(strings.Join(summary.Warnings, "|"), "Tokens used: 150") {
		t.Errorf("Expected token usage note, got %v", summary.Warnings)
	}
}

func TestSummarizer_GenerateSummary_ProviderError(t *testing.T) {
	summarizer := &Summarizer{
		provider: &MockProvider{name: "test-provider", available: true, err: errors.New("API rate limit exceeded")},
	}

	summary, err := summarizer.GenerateSummary(context.Background(), sampleResult())
	if err != nil {
		t.Fatalf("Provider errors should not fail the run, got %v", err)
	}
	if summary.Enabled || !strings.Contains(summary.Warnings[0], "rate limit") {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestRenderSeparateMarkdown(t *testing.T) {
	if RenderSeparateMarkdown(nil) != "" || RenderSeparateMarkdown(&model.LLMSummary{}) != "" {
		t.Error("Expected empty markdown when nil or disabled")
	}

	md := RenderSeparateMarkdown(&model.LLMSummary{
		Enabled:        true,
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		StrictEvidence: true,
		SummaryMD:      "This is the generated summary content.",
		Warnings:       []string{"Tokens used: 150", "Verified 5 citations"},
	})
	for _, section := range []string{
		"# LLM Summary", "GENERATED CONTENT", "determined independently",
		"openai", "gpt-4o-mini", "Strict Evidence Mode:** true",
		"This is the generated summary content.", "## Notes", "Verified 5 citations",
	} {
		if !strings.Contains(md, section) {
			t.Errorf("Expected markdown to contain %q", section)
		}
	}

	empty := RenderSeparateMarkdown(&model.LLMSummary{Enabled: true, Provider: "openai"})
	if !strings.Contains(empty, "No summary generated") {
		t.Error("Expected message about no summary")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(sampleInput(), nil)
	for _, want := range []string{"ROGERS", "(No evidence URLs available)", "MAY 17 2025", "combined score 0.820", "3-4 sentence"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	urls := make([]string, 25)
	for i := range urls {
		urls[i] = "https://example.com/" + string(rune('a'+i))
	}
	if !strings.Contains(BuildPrompt(Input{}, urls), "... and 5 more URLs") {
		t.Error("Expected URL list to be truncated at 20")
	}
	if !strings.Contains(BuildPrompt(Input{}, nil), "Best candidate: none") {
		t.Error("Expected placeholder for a missing best candidate")
	}
}
