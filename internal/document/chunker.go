package document

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kalambet/finrag/internal/retrieval"
)

const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 250

	// minCut is how far into a window a sentence boundary must sit before
	// the window is shortened to it.
	minCut = 200
)

var heading = regexp.MustCompile(`^[A-Z][A-Z ]{10,}$`)

// Section tags attached to chunks whose opening line names a statement.
const (
	SectionBalanceSheet    = "balance_sheet"
	SectionIncomeStatement = "income_statement"
	SectionCashFlow        = "cash_flow"
)

// Chunker splits cleaned page text into overlapping windows measured in
// characters.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a Chunker, falling back to the defaults for
// non-positive sizes and clamping the overlap below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk cleans each page of f and splits it into chunks. Chunk IDs are
// chunk_<page>_<n> with pages counted from 1 and n from 0 within the page.
func (c *Chunker) Chunk(f *Filing) []retrieval.Chunk {
	var out []retrieval.Chunk
	for i, page := range f.Pages {
		pageNo := i + 1
		n := 0
		for _, sec := range Sections(Clean(page)) {
			for _, text := range c.Split(sec) {
				out = append(out, retrieval.Chunk{
					ID:      fmt.Sprintf("chunk_%d_%d", pageNo, n),
					Text:    text,
					Source:  f.Path,
					Page:    pageNo,
					Section: TagSection(text),
				})
				n++
			}
		}
	}
	return out
}

// Sections splits text before every ALL-CAPS heading line.
func Sections(text string) []string {
	lines := strings.Split(text, "\n")
	var (
		out []string
		cur []string
	)
	for i, line := range lines {
		if i > 0 && heading.MatchString(strings.TrimRight(line, " \t")) && len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}

// Split windows text into chunks of at most Size characters. A window that
// does not reach the end is shortened to its last sentence break when that
// break lies more than minCut characters in. Each window starts Overlap
// characters before the previous end, and the start always advances.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var out []string

	for start := 0; start < n; {
		end := min(start+c.Size, n)
		if end < n {
			if cut := sentenceBreak(runes[start:end]); cut > minCut {
				end = start + cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk == "" {
			break
		}
		out = append(out, chunk)

		if end >= n {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// sentenceBreak returns the offset just past the first '.' or '\n' that is
// followed by whitespace and has no later period, or -1.
func sentenceBreak(w []rune) int {
	from := 0
	for i := len(w) - 1; i >= 0; i-- {
		if w[i] == '.' {
			from = i
			break
		}
	}
	for i := from; i+1 < len(w); i++ {
		if (w[i] == '.' || w[i] == '\n') && unicode.IsSpace(w[i+1]) {
			return i + 1
		}
	}
	return -1
}

// TagSection guesses which statement a chunk belongs to from its first
// line. It returns "" when nothing matches.
func TagSection(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.ToLower(first)
	switch {
	case containsAny(first, "balance", "assets", "liabilities"):
		return SectionBalanceSheet
	case containsAny(first, "revenue", "sales", "turnover"):
		return SectionIncomeStatement
	case strings.Contains(first, "cash"):
		return SectionCashFlow
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
