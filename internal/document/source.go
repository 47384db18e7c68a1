// Package document locates filings on disk, extracts their text, and
// cleans and chunks it for indexing.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrFilingNotFound is returned when no filing exists for a company.
	ErrFilingNotFound = errors.New("filing not found")
	// ErrInvalidIdentifier is returned for a ticker or market that cannot
	// name a file directly under the filing root.
	ErrInvalidIdentifier = errors.New("invalid company identifier")
)

// Tickers and markets are upper-cased before matching.
var identifierRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]*$`)

// Formats tried, in order, when looking a filing up.
var extensions = []string{".pdf", ".htm", ".html", ".txt"}

// Filing is a located filing with its extracted text, one entry per page.
// HTML and plain-text filings have a single page.
type Filing struct {
	Ticker string   `json:"ticker"`
	Market string   `json:"market"`
	Type   string   `json:"type"`
	Path   string   `json:"path"`
	Format string   `json:"format"`
	Size   int64    `json:"size"`
	Pages  []string `json:"-"`
}

// Text returns all pages joined by newlines.
func (f *Filing) Text() string {
	return strings.Join(f.Pages, "\n")
}

// FilingType names the annual filing for a market.
func FilingType(market string) string {
	if strings.EqualFold(market, "US") {
		return "10-K"
	}
	return "annual-report"
}

// Source returns the filing for a company.
type Source interface {
	Fetch(ctx context.Context, ticker, market string) (*Filing, error)
}

// DirSource reads filings from <Root>/<MARKET>/<TICKER>.<ext>.
type DirSource struct {
	Root string
}

// NewDirSource creates a DirSource rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// Fetch locates and extracts the filing. A missing filing yields
// ErrFilingNotFound.
func (s *DirSource) Fetch(ctx context.Context, ticker, market string) (*Filing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticker, market = strings.ToUpper(ticker), strings.ToUpper(market)
	if !identifierRE.MatchString(ticker) || !identifierRE.MatchString(market) {
		return nil, fmt.Errorf("%q/%q: %w", market, ticker, ErrInvalidIdentifier)
	}

	path, err := s.locate(ticker, market)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat filing: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	pages, err := ExtractText(path)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", path, err)
	}

	slog.Debug("filing located", "ticker", ticker, "market", market, "path", path, "pages", len(pages))
	return &Filing{
		Ticker: ticker,
		Market: market,
		Type:   FilingType(market),
		Path:   path,
		Format: format,
		Size:   info.Size(),
		Pages:  pages,
	}, nil
}

func (s *DirSource) locate(ticker, market string) (string, error) {
	dir := filepath.Join(s.Root, market)
	for _, ext := range extensions {
		p := filepath.Join(dir, ticker+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s/%s in %s: %w", market, ticker, s.Root, ErrFilingNotFound)
}
