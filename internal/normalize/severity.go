package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var severityPattern = regexp.MustCompile(`(?i)Current[^0-9]*([0-9,]+)[^0-9]+Normal[^0-9]*([0-9,]+)`)

// SeverityRatio returns current/normal, or 0 when the ratio is undefined or not finite
func SeverityRatio(current, normal float64) float64 {
	if normal == 0 {
		return 0
	}
	ratio := current / normal
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	return ratio
}

// ExtractCounts finds "Current ... <n> ... Normal ... <n>" in free text after stripping markup
func ExtractCounts(text string) (current, normal float64, ok bool) {
	m := severityPattern.FindStringSubmatch(StripHTML(text))
	if m == nil {
		return 0, 0, false
	}
	cur, err := parseNumber(m[1])
	if err != nil {
		return 0, 0, false
	}
	norm, err := parseNumber(m[2])
	if err != nil {
		return 0, 0, false
	}
	return cur, norm, true
}

// SeverityFromText extracts the severity ratio from a description, 0 when absent
func SeverityFromText(text string) float64 {
	cur, norm, ok := ExtractCounts(text)
	if !ok {
		return 0
	}
	return SeverityRatio(cur, norm)
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(tokenizer.Text())
			sb.WriteByte(' ')
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			sb.WriteByte(' ')
		}
	}
}

func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 64)
}
