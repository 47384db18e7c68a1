package verify

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// ValidityPenalty is subtracted when any claim is unsupported.
	ValidityPenalty = 0.25

	supportThreshold = 0.4
	minClaimLen      = 10
	minWordLen       = 3
	excerptLen       = 50
)

var sentenceSep = regexp.MustCompile(`[.!?]+`)

// ExtractClaims splits text into sentence-like claims longer than ten
// characters.
func ExtractClaims(text string) []string {
	var claims []string
	for _, s := range sentenceSep.Split(text, -1) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > minClaimLen {
			claims = append(claims, s)
		}
	}
	return claims
}

func words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// Support returns the best overlap, across sources, between the claim's
// significant words (longer than three characters) and a source's words.
func Support(claim string, sources []string) float64 {
	claimWords := words(claim)
	for w := range claimWords {
		if utf8.RuneCountInString(w) <= minWordLen {
			delete(claimWords, w)
		}
	}

	var best float64
	for _, src := range sources {
		srcWords := words(src)
		var shared int
		for w := range claimWords {
			if _, ok := srcWords[w]; ok {
				shared++
			}
		}
		best = max(best, float64(shared)/(float64(len(claimWords))+1e-6))
	}
	return best
}

// Validity is agent V. A claim is supported when its overlap with some
// source exceeds 0.4.
type Validity struct{}

func (Validity) Verify(answer string, sources []string) Result {
	claims := ExtractClaims(answer)
	if len(claims) == 0 {
		return pass(AgentValidity, "No claims to verify.")
	}

	var supported, unsupported []string
	for _, c := range claims {
		if Support(c, sources) > supportThreshold {
			supported = append(supported, truncate(c, excerptLen))
		} else {
			unsupported = append(unsupported, truncate(c, excerptLen))
		}
	}

	if len(unsupported) == 0 {
		return pass(AgentValidity, fmt.Sprintf("All %d claims verified in sources.", len(supported)))
	}
	return Result{
		Agent:      AgentValidity,
		Status:     StatusFail,
		Details:    fmt.Sprintf("Found %d unsupported claims.", len(unsupported)),
		Correction: "Unsupported: " + strings.Join(unsupported[:min(2, len(unsupported))], "; ") + "...",
		Penalty:    ValidityPenalty,
	}
}
