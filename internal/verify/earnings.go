package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EarningsPenalty is subtracted when any number is unverified, however many.
const EarningsPenalty = 0.3

// numberRe captures a number, an optional scale unit and the word run that
// follows it as the putative metric label.
var numberRe = regexp.MustCompile(`\$?([0-9][0-9,]*(?:\.[0-9]+)?)(?:\s*((?i:billion|million)|[BM]\b|%))?(?:\s+(?:in\s+)?([A-Za-z][A-Za-z ]*))?`)

// NumericClaim is a number found in an answer.
type NumericClaim struct {
	Value float64
	Raw   string // digits as written, commas kept
	Label string
}

func (c NumericClaim) String() string {
	return fmt.Sprintf("%s (%s)", strconv.FormatFloat(c.Value, 'f', -1, 64), c.Label)
}

// forms lists the textual representations searched for in sources.
func (c NumericClaim) forms() []string {
	return []string{
		strconv.FormatInt(int64(c.Value), 10),
		fmt.Sprintf("%.2f", c.Value),
		fmt.Sprintf("%.1f", c.Value),
		c.Raw,
	}
}

// ExtractNumbers returns every number in text with its label.
func ExtractNumbers(text string) []NumericClaim {
	var claims []NumericClaim
	for _, m := range numberRe.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimRight(m[1], ",")
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		claims = append(claims, NumericClaim{Value: v, Raw: raw, Label: strings.TrimSpace(m[3])})
	}
	return claims
}

// Earnings is agent E. A number is verified when any source contains its
// integer, one-decimal or two-decimal form, or the digits as written.
type Earnings struct{}

func (Earnings) Verify(answer string, sources []string) Result {
	claims := ExtractNumbers(answer)
	if len(claims) == 0 {
		return pass(AgentEarnings, "No numerical claims to verify.")
	}

	var verified, unverified []string
	for _, c := range claims {
		if foundIn(c, sources) {
			verified = append(verified, c.String())
		} else {
			unverified = append(unverified, c.String())
		}
	}

	if len(unverified) == 0 {
		return pass(AgentEarnings, fmt.Sprintf("All %d numerical claims verified against sources.", len(verified)))
	}

	ok := "None"
	if len(verified) > 0 {
		ok = strings.Join(verified, ", ")
	}
	bad := strings.Join(unverified, ", ")
	return Result{
		Agent:      AgentEarnings,
		Status:     StatusFail,
		Details:    fmt.Sprintf("Found %d unverified numerical claims: %s", len(unverified), bad),
		Correction: fmt.Sprintf("Verified numbers: %s. Unverified: %s", ok, bad),
		Penalty:    EarningsPenalty,
	}
}

func foundIn(c NumericClaim, sources []string) bool {
	forms := c.forms()
	for _, src := range sources {
		for _, f := range forms {
			if f != "" && strings.Contains(src, f) {
				return true
			}
		}
	}
	return false
}
