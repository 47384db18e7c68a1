package generator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/finrag/internal/retrieval"
)

// DefaultTemplate is the answer prompt. {context} and {question} are
// substituted.
const DefaultTemplate = "Use only the provided contexts to answer the question. Cite sources inline.\n\nContext:\n{context}\n\nQuestion:\n{question}\n\nAnswer:"

const (
	defaultMaxContextChars = 4000
	knowledgeHeader        = "\n\n[Knowledge Graph Context]\n"
)

// Composer assembles answer prompts from retrieved hits, knowledge-store
// context and the question.
type Composer struct {
	Template        string
	MaxContextChars int
}

// NewComposer creates a Composer with the given budget for retrieved
// context. If maxContextChars <= 0, the default (4000) is used.
func NewComposer(maxContextChars int) *Composer {
	if maxContextChars <= 0 {
		maxContextChars = defaultMaxContextChars
	}
	return &Composer{Template: DefaultTemplate, MaxContextChars: maxContextChars}
}

// Compose renders the prompt. Hits are expected in descending score order
// and are labelled [S1], [S2], ... in that order. The joined hit text is cut
// to MaxContextChars runes; knowledge context is appended after the cut so
// it is never truncated.
func (c *Composer) Compose(question string, hits []retrieval.Hit, kgContext string) string {
	context := truncateRunes(FormatContext(hits), c.MaxContextChars)
	if kgContext != "" {
		context += knowledgeHeader + kgContext
	}
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(c.Template)
}

// FormatContext renders hits as numbered source blocks separated by blank
// lines.
func FormatContext(hits []retrieval.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[S%d] (score=%.3f)\n%s", i+1, h.Score, h.Text)
	}
	return strings.Join(parts, "\n\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
