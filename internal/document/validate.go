package document

import (
	"math"
	"regexp"
	"strings"
)

const (
	minFileSize  = 2000
	minTextChars = 500
	snippetChars = 1000
)

var financialMarkers = regexp.MustCompile(`(?i)Item\s+7\.|Management.?s Discussion|Balance Sheet|Consolidated Statement|Income Statement|Cash Flow`)

// Report describes how usable a filing looks before it is indexed.
type Report struct {
	Path         string   `json:"path"`
	Size         int64    `json:"size"`
	Pages        int      `json:"pages"`
	Completeness float64  `json:"completeness"`
	Issues       []string `json:"issues,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
}

// Validate scores a filing between 0 and 1. Small files, thin text and the
// absence of recognizable financial sections each cost points. PDF filings
// are judged on their first two pages.
func Validate(f *Filing) Report {
	r := Report{Path: f.Path, Size: f.Size, Pages: len(f.Pages)}

	pages := f.Pages
	if f.Format == "pdf" && len(pages) > 2 {
		pages = pages[:2]
	}
	text := strings.Join(pages, "\n")

	score := 1.0
	if f.Size < minFileSize {
		score -= 0.6
		r.Issues = append(r.Issues, "File too small (<2KB)")
	}
	if len([]rune(text)) < minTextChars {
		score -= 0.3
		r.Issues = append(r.Issues, "Insufficient text extracted")
	}
	if financialMarkers.MatchString(text) {
		score += 0.2
	} else {
		score -= 0.2
		r.Issues = append(r.Issues, "Did not detect key financial sections")
	}

	score = math.Max(0, math.Min(1, score))
	r.Completeness = math.Round(score*100) / 100
	r.Snippet = truncate(text, snippetChars)
	return r
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
