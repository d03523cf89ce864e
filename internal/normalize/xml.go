package normalize

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

// pubDateLayouts are the accepted RSS pubDate forms
var pubDateLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// itemOpen and itemClose delimit <item> elements, namespace prefix allowed
var (
	itemOpen  = regexp.MustCompile(`<(?:[\w.-]+:)?item[\s/>]`)
	itemClose = regexp.MustCompile(`</(?:[\w.-]+:)?item\s*>`)
)

// XML normalizes every <item> element found anywhere in an RSS-like document.
// Items are decoded one at a time so a malformed item is dropped on its own.
func (n *Normalizer) XML(r io.Reader) (Batch, error) {
	batch := Batch{Source: model.SourceXML, Dropped: make(Drops)}

	doc, err := io.ReadAll(r)
	if err != nil {
		return batch, fmt.Errorf("read xml: %w", err)
	}

	for _, chunk := range splitItems(doc) {
		var item rssItem
		if err := newItemDecoder(chunk).Decode(&item); err != nil {
			batch.Dropped.Add(model.SourceXML, 1)
			continue
		}

		report, ok := xmlReport(item)
		if !ok {
			batch.Dropped.Add(model.SourceXML, 1)
			continue
		}
		report.Index = len(batch.Reports)
		batch.Reports = append(batch.Reports, report)
	}

	n.logDrops(batch)
	return batch, nil
}

// splitItems cuts doc into one chunk per <item>. A chunk ends at its closing
// tag, or at the next opening tag when the item was never closed.
func splitItems(doc []byte) [][]byte {
	starts := itemOpen.FindAllIndex(doc, -1)
	chunks := make([][]byte, 0, len(starts))
	for i, loc := range starts {
		end := len(doc)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		chunk := doc[loc[0]:end]
		if c := itemClose.FindIndex(chunk); c != nil {
			chunk = chunk[:c[1]]
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func newItemDecoder(chunk []byte) *xml.Decoder {
	decoder := xml.NewDecoder(bytes.NewReader(chunk))
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	return decoder
}

func xmlReport(item rssItem) (model.Report, bool) {
	ts, err := ParsePubDate(item.PubDate)
	if err != nil {
		return model.Report{}, false
	}

	description := strings.TrimSpace(item.Description)
	return model.Report{
		Timestamp:     ts.Unix(),
		Title:         strings.TrimSpace(item.Title),
		Text:          StripHTML(description),
		URL:           strings.TrimSpace(item.Link),
		Source:        model.SourceXML,
		SeverityRatio: SeverityFromText(description),
	}, true
}

// ParsePubDate parses an RSS pubDate such as "Thu, 08 May 2025 14:30:00 -0400"
func ParsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty pubDate")
	}
	var lastErr error
	for _, layout := range pubDateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse pubDate %q: %w", raw, lastErr)
}
