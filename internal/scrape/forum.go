package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// outageKeywords select forum threads worth keeping
var outageKeywords = []string{
	"outage", "interruption", "interrup", "service", "down",
	"incident", "slow", "issue", "problem",
}

const maxBodyRunes = 2000

// MentionsOutage reports whether text contains any outage keyword
func MentionsOutage(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range outageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ForumSource scrapes a community forum thread listing
type ForumSource struct {
	fetcher PageFetcher
	threads int
	bodies  bool
	logger  *zap.Logger
}

// NewForumSource creates a forum scraper. threads bounds concurrent thread page
// fetches; bodies enables article text extraction for every kept thread.
func NewForumSource(fetcher PageFetcher, threads int, bodies bool, logger *zap.Logger) *ForumSource {
	if threads <= 0 {
		threads = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForumSource{fetcher: fetcher, threads: threads, bodies: bodies, logger: logger}
}

// Kind returns the source kind
func (s *ForumSource) Kind() model.Source { return model.SourceForum }

// Collect fetches the listing and returns one record per outage-related thread
func (s *ForumSource) Collect(ctx context.Context, p model.ProviderConfig) ([]normalize.RawRecord, error) {
	if p.ForumURL == "" {
		return nil, nil
	}

	page, err := s.fetcher.FetchWithRetry(ctx, p.ForumURL)
	if err != nil {
		return nil, fmt.Errorf("forum listing: %w", err)
	}
	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("forum listing: %w", err)
	}

	records, err := ParseForumListing(page.HTML, base)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("forum listing parsed",
		zap.String("provider", string(p.Name)),
		zap.Int("threads", len(records)))

	return records, s.enrich(ctx, records)
}

// enrich visits thread pages for records missing a date or when bodies are wanted.
// A failing thread keeps its listing data.
func (s *ForumSource) enrich(ctx context.Context, records []normalize.RawRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.threads)

	for _, rec := range records {
		needsDate := rec.Get("timestamp", "datetime", "date", "human_time") == ""
		if rec["url"] == "" || (!needsDate && !s.bodies) {
			continue
		}
		g.Go(func() error {
			page, err := s.fetcher.FetchWithRetry(gctx, rec["url"])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Debug("thread fetch failed", zap.String("url", rec["url"]), zap.Error(err))
				return nil
			}
			s.applyThread(rec, page, needsDate)
			return nil
		})
	}
	return g.Wait()
}

func (s *ForumSource) applyThread(rec normalize.RawRecord, page *Page, needsDate bool) {
	if needsDate {
		if doc, err := parseHTML(page.HTML); err == nil {
			if date := dateFromNode(doc); date != "" {
				rec["date"] = date
			}
		}
	}
	if !s.bodies {
		return
	}
	pageURL, err := url.Parse(page.FinalURL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(strings.NewReader(page.HTML), pageURL)
	if err != nil {
		s.logger.Debug("readability failed", zap.String("url", page.FinalURL), zap.Error(err))
		return
	}
	if body := truncateRunes(strings.TrimSpace(article.TextContent), maxBodyRunes); body != "" {
		rec["description"] = body
	}
}

// ParseForumListing extracts outage-related threads from a forum listing page.
// Article tiles are preferred; listings without them fall back to list-row anchors.
func ParseForumListing(body string, base *url.URL) ([]normalize.RawRecord, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parse forum listing: %w", err)
	}

	seen := make(map[string]bool)
	var records []normalize.RawRecord
	add := func(anchor, container *html.Node) {
		title := textOf(anchor)
		href := attr(anchor, "href")
		if title == "" || href == "" || !MentionsOutage(title) {
			return
		}
		link := resolve(base, href)
		if seen[link] {
			return
		}
		seen[link] = true

		rec := normalize.RawRecord{"title": title, "url": link}
		if container != nil {
			if t := findFirst(container, isElement(atom.Time)); t != nil {
				if dt := attr(t, "datetime"); dt != "" {
					rec["datetime"] = dt
				}
				if human := textOf(t); human != "" {
					rec["human_time"] = human
				}
			}
			if rec.Get("datetime", "human_time") == "" {
				if date := dateFromNode(container); date != "" {
					rec["date"] = date
				}
			}
		}
		records = append(records, rec)
	}

	articles := findAll(doc, isElement(atom.Article))
	for _, art := range articles {
		if a := findFirst(art, isLink); a != nil {
			add(a, art)
		}
	}
	if len(articles) > 0 {
		return records, nil
	}

	for _, a := range findAll(doc, isLink) {
		add(a, closest(a, atom.Li))
	}
	return records, nil
}

// dateFromNode looks for the post date in the markup forum engines commonly emit
func dateFromNode(n *html.Node) string {
	if el := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && attr(c, "itemprop") == "dateCreated" && attr(c, "content") != ""
	}); el != nil {
		return attr(el, "content")
	}
	if el := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.DataAtom == atom.Meta && attr(c, "itemprop") == "datePublished"
	}); el != nil && attr(el, "content") != "" {
		return attr(el, "content")
	}
	if el := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.DataAtom == atom.Span && hasClass(c, "DateTime")
	}); el != nil {
		if text := textOf(el); text != "" {
			return text
		}
	}

	date := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.DataAtom == atom.Span && hasClass(c, "local-date")
	})
	clock := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.DataAtom == atom.Span && hasClass(c, "local-time")
	})
	if date != nil && clock != nil {
		// Khoros prefixes dates with a left-to-right mark
		d := strings.Trim(textOf(date), "\u200e ")
		return strings.TrimSpace(d + " " + textOf(clock))
	}
	return ""
}

func isLink(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.A && attr(n, "href") != ""
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
