package knowledge

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a YAML description of known companies and their peers:
//
//	companies:
//	  - ticker: AAPL
//	    name: Apple Inc.
//	    sector: Technology
//	    market: US
//	    peers:
//	      - ticker: MSFT
//	        similarity: 0.8
type Seed struct {
	Companies []SeedCompany `yaml:"companies"`
}

// SeedCompany is one entry of a Seed.
type SeedCompany struct {
	Ticker string     `yaml:"ticker"`
	Name   string     `yaml:"name"`
	Sector string     `yaml:"sector"`
	Market string     `yaml:"market"`
	Peers  []SeedPeer `yaml:"peers"`
}

// SeedPeer is a directed peer link with its similarity weight.
type SeedPeer struct {
	Ticker     string  `yaml:"ticker"`
	Similarity float64 `yaml:"similarity"`
}

// DefaultPeerSimilarity is used for seed peers that omit a weight.
const DefaultPeerSimilarity = 0.8

// ParseSeed decodes a YAML seed document.
func ParseSeed(r io.Reader) (*Seed, error) {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	for i, c := range s.Companies {
		if c.Ticker == "" {
			return nil, fmt.Errorf("seed company %d: ticker is required", i)
		}
	}
	return &s, nil
}

// LoadSeed reads a seed file from path.
func LoadSeed(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// Lookup finds the entry for ticker, ignoring case. A nil Seed finds nothing.
func (s *Seed) Lookup(ticker string) (SeedCompany, bool) {
	if s == nil {
		return SeedCompany{}, false
	}
	for _, c := range s.Companies {
		if strings.EqualFold(c.Ticker, ticker) {
			return c, true
		}
	}
	return SeedCompany{}, false
}

// DefaultSector is the fallback sector for tickers without a seed entry.
func DefaultSector(ticker string) string {
	switch strings.ToUpper(ticker) {
	case "AAPL", "MSFT":
		return "Technology"
	default:
		return "Finance"
	}
}

// Apply adds ticker's company node to g, using the seed entry when present
// and the default sector rule otherwise. Seeded peers become peer edges.
func (s *Seed) Apply(g *Graph, ticker, market string) {
	c, ok := s.Lookup(ticker)
	if !ok {
		g.AddCompany(ticker, ticker, DefaultSector(ticker), market)
		return
	}

	name := c.Name
	if name == "" {
		name = ticker
	}
	sector := c.Sector
	if sector == "" {
		sector = DefaultSector(ticker)
	}
	if c.Market != "" {
		market = c.Market
	}
	g.AddCompany(ticker, name, sector, market)
	for _, p := range c.Peers {
		sim := p.Similarity
		if sim == 0 {
			sim = DefaultPeerSimilarity
		}
		g.AddPeer(ticker, strings.ToUpper(p.Ticker), sim)
	}
}
