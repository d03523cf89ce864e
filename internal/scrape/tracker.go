package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var reportCount = regexp.MustCompile(`(?i)received reports? (?:in the past 24 hours)?(?:.*?)(\d[\d,]*)`)

// TrackerSource reads the crowd-sourced report count from an outage tracker page
type TrackerSource struct {
	fetcher PageFetcher
	now     func() time.Time
}

// NewTrackerSource creates a tracker scraper
func NewTrackerSource(fetcher PageFetcher) *TrackerSource {
	return &TrackerSource{fetcher: fetcher, now: time.Now}
}

// Kind returns the source kind
func (s *TrackerSource) Kind() model.Source { return model.SourceOutageTracker }

// Collect returns a single record stamped with the fetch time
func (s *TrackerSource) Collect(ctx context.Context, p model.ProviderConfig) ([]normalize.RawRecord, error) {
	if p.TrackerURL == "" {
		return nil, nil
	}
	page, err := s.fetcher.FetchWithRetry(ctx, p.TrackerURL)
	if err != nil {
		return nil, fmt.Errorf("outage tracker: %w", err)
	}

	summary, count, err := ParseTracker(page.HTML)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		return nil, nil
	}
	return []normalize.RawRecord{{
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
		"title":     fmt.Sprintf("%s outage reports", p.Name),
		"summary":   summary,
		"count":     strconv.Itoa(count),
		"url":       page.FinalURL,
	}}, nil
}

// ParseTracker returns the first paragraph mentioning reports and the count it states
func ParseTracker(body string) (string, int, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", 0, fmt.Errorf("parse tracker page: %w", err)
	}

	p := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.P &&
			strings.Contains(strings.ToLower(textOf(n)), "report")
	})
	if p == nil {
		return "", 0, nil
	}

	summary := textOf(p)
	count := 0
	if m := reportCount.FindStringSubmatch(summary); m != nil {
		count, _ = strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	}
	return summary, count, nil
}
