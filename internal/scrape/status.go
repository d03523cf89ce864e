package scrape

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StatusSource reads the headline status line of a third-party status page
type StatusSource struct {
	fetcher PageFetcher
	now     func() time.Time
}

// NewStatusSource creates a status page scraper
func NewStatusSource(fetcher PageFetcher) *StatusSource {
	return &StatusSource{fetcher: fetcher, now: time.Now}
}

// Kind returns the source kind
func (s *StatusSource) Kind() model.Source { return model.SourceServiceStatus }

// Collect returns a single record when the page mentions the provider
func (s *StatusSource) Collect(ctx context.Context, p model.ProviderConfig) ([]normalize.RawRecord, error) {
	if p.StatusURL == "" {
		return nil, nil
	}
	page, err := s.fetcher.FetchWithRetry(ctx, p.StatusURL)
	if err != nil {
		return nil, fmt.Errorf("service status: %w", err)
	}

	status, err := ParseStatus(page.HTML, p.Name)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return nil, nil
	}
	return []normalize.RawRecord{{
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
		"title":     fmt.Sprintf("%s service status", p.Name),
		"status":    status,
		"url":       page.FinalURL,
	}}, nil
}

// ParseStatus returns the first visible text node naming the provider
func ParseStatus(body string, provider model.Provider) (string, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", fmt.Errorf("parse status page: %w", err)
	}

	needle := strings.ToLower(string(provider))
	var status string
	walk(doc, func(n *html.Node) bool {
		if status != "" {
			return false
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head) {
			return false
		}
		if n.Type == html.TextNode && strings.Contains(strings.ToLower(n.Data), needle) {
			status = strings.Join(strings.Fields(n.Data), " ")
		}
		return true
	})
	return status, nil
}
