package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/util"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 800
	systemPrompt     = "You summarize telecom outage evidence for an operations team. You only describe the reports you are given."
)

// ErrCitationLeak is returned in strict mode when a summary cites a URL that is
// not part of the evidence
var ErrCitationLeak = errors.New("CITATION LEAK")

var urlPattern = regexp.MustCompile(`https?://[^\s\)]+`)

// OpenAIProvider summarizes through the Chat Completions API of OpenAI or any
// compatible server reachable at Config.BaseURL
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	if config.HTTPProxy != "" || config.HTTPSProxy != "" || config.NoProxy != "" {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy)
		cc.HTTPClient = &http.Client{Transport: transport}
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cc), config: config}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable reports whether the endpoint accepts the configured key
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Summarize describes the grouped evidence in req
func (p *OpenAIProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	chat := p.chatRequest(req)

	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	cited := extractURLs(summary)
	if p.config.StrictEvidence {
		if err := checkCitations(cited, req.EvidenceURLs); err != nil {
			return nil, err
		}
	}

	return &SummarizeResponse{
		Summary:    summary,
		CitedURLs:  cited,
		Model:      chat.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// chatRequest fills request fields left empty from the provider config
func (p *OpenAIProvider) chatRequest(req SummarizeRequest) openai.ChatCompletionRequest {
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Input, req.EvidenceURLs)
	}
	model := firstNonEmpty(req.Model, p.config.Model, openai.GPT4oMini)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	}
}

// checkCitations fails on the first cited URL missing from allowed
func checkCitations(cited, allowed []string) error {
	allow := make(map[string]bool, len(allowed))
	for _, u := range allowed {
		allow[u] = true
	}
	for _, u := range cited {
		if !allow[u] {
			return fmt.Errorf("%w: LLM cited disallowed URL: %s", ErrCitationLeak, u)
		}
	}
	return nil
}

// extractURLs returns the distinct URLs in text, trailing punctuation trimmed
func extractURLs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
