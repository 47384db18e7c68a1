package document

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	pageMarker  = regexp.MustCompile(`(?i)Page\s+\d+\s+of\s+\d+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	rupee       = regexp.MustCompile(`₹\s*|\bRs\.\s*`)
	numericDate = regexp.MustCompile(`\b(\d{1,2})[-/](\d{1,2})[-/](\d{4})\b`)
	inlineSpace = regexp.MustCompile(`[^\S\n]{2,}`)
)

// Clean normalizes extracted filing text: line endings, page markers,
// blank runs, rupee notation and DD-MM-YYYY dates. Dollar amounts are
// left as written.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = pageMarker.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = rupee.ReplaceAllString(text, "INR ")
	text = numericDate.ReplaceAllStringFunc(text, isoDate)
	text = inlineSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// isoDate rewrites a DD-MM-YYYY or DD/MM/YYYY match as YYYY-MM-DD.
func isoDate(s string) string {
	m := numericDate.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
}
