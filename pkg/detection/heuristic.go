package detection

import (
	"context"
	"regexp"
	"strings"

	"github.com/privsense/privsense/pkg/models"
)

// Match-kind multipliers applied to a keyword's base confidence.
const (
	exactNameMultiplier    = 1.0
	substringMultiplier    = 0.7
	commentTokenMultiplier = 0.6
)

// keyword pairs a metadata token with the PII type it suggests.
type keyword struct {
	word       string
	piiType    models.PiiType
	confidence float64
}

// keywordTable is the curated metadata vocabulary. Multi-token entries
// are matched against the normalized (snake_case) column name.
var keywordTable = []keyword{
	{"ssn", models.PiiTypeSSN, 0.95},
	{"social_security", models.PiiTypeSSN, 0.95},
	{"email", models.PiiTypeEmail, 0.9},
	{"e_mail", models.PiiTypeEmail, 0.9},
	{"mail", models.PiiTypeEmail, 0.7},
	{"phone", models.PiiTypePhone, 0.85},
	{"mobile", models.PiiTypePhone, 0.8},
	{"telephone", models.PiiTypePhone, 0.85},
	{"fax", models.PiiTypePhone, 0.7},
	{"addr", models.PiiTypeAddress, 0.75},
	{"address", models.PiiTypeAddress, 0.75},
	{"street", models.PiiTypeAddress, 0.7},
	{"city", models.PiiTypeAddress, 0.6},
	{"zip", models.PiiTypeAddress, 0.65},
	{"postal", models.PiiTypeAddress, 0.65},
	{"first_name", models.PiiTypeName, 0.9},
	{"last_name", models.PiiTypeName, 0.9},
	{"surname", models.PiiTypeName, 0.9},
	{"full_name", models.PiiTypeName, 0.9},
	{"name", models.PiiTypeName, 0.6},
	{"birth", models.PiiTypeDateOfBirth, 0.85},
	{"dob", models.PiiTypeDateOfBirth, 0.9},
	{"birthdate", models.PiiTypeDateOfBirth, 0.9},
	{"credit_card", models.PiiTypeCreditCard, 0.95},
	{"card_number", models.PiiTypeCreditCard, 0.9},
	{"pan", models.PiiTypeCreditCard, 0.6},
	{"cvv", models.PiiTypeCreditCard, 0.9},
	{"ip_address", models.PiiTypeIPAddress, 0.9},
	{"ip_addr", models.PiiTypeIPAddress, 0.9},
	{"passport", models.PiiTypePassport, 0.9},
	{"drivers_license", models.PiiTypeDriversLicense, 0.9},
	{"license_number", models.PiiTypeDriversLicense, 0.8},
	{"iban", models.PiiTypeBankAccount, 0.9},
	{"account_number", models.PiiTypeBankAccount, 0.8},
	{"routing_number", models.PiiTypeBankAccount, 0.85},
	{"username", models.PiiTypeUsername, 0.8},
	{"login", models.PiiTypeUsername, 0.7},
	{"gender", models.PiiTypeGender, 0.85},
	{"sex", models.PiiTypeGender, 0.8},
	{"national_id", models.PiiTypeNationalID, 0.9},
	{"tax_id", models.PiiTypeNationalID, 0.85},
	{"nino", models.PiiTypeNationalID, 0.85},
}

var tokenSplitter = regexp.MustCompile(`[^a-z0-9]+`)

// HeuristicStrategy matches column names and comments against the
// keyword table. It needs no sample values.
type HeuristicStrategy struct{}

// NewHeuristicStrategy creates the metadata strategy.
func NewHeuristicStrategy() *HeuristicStrategy {
	return &HeuristicStrategy{}
}

// Method implements Strategy.
func (s *HeuristicStrategy) Method() models.DetectionMethod {
	return models.DetectionMethodHeuristic
}

// Evaluate scans column name and comment. Returns at most one candidate
// per matched PII type, keeping the highest-scoring match.
func (s *HeuristicStrategy) Evaluate(_ context.Context, col models.ColumnInfo, _ *models.SampleData) ([]models.PiiCandidate, error) {
	name := normalize(col.Name)
	nameTokens := tokenize(name)
	commentTokens := tokenize(normalize(col.Comment))

	best := make(map[models.PiiType]models.PiiCandidate)
	for _, kw := range keywordTable {
		score := 0.0
		evidence := ""
		switch {
		case matchesTokens(kw.word, nameTokens):
			score = kw.confidence * exactNameMultiplier
			evidence = "column name token: " + kw.word
		case strings.Contains(name, kw.word):
			score = kw.confidence * substringMultiplier
			evidence = "column name substring: " + kw.word
		case matchesTokens(kw.word, commentTokens):
			score = kw.confidence * commentTokenMultiplier
			evidence = "comment token: " + kw.word
		default:
			continue
		}

		if existing, ok := best[kw.piiType]; !ok || score > existing.Confidence {
			best[kw.piiType] = models.PiiCandidate{
				Column:     col.Ref(),
				PiiType:    kw.piiType,
				Confidence: score,
				Method:     models.DetectionMethodHeuristic,
				Evidence:   evidence,
			}
		}
	}

	candidates := make([]models.PiiCandidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// normalize lowercases and converts camelCase to snake_case so both
// naming styles tokenize the same way. Underscores are inserted only at
// word boundaries (lower-to-upper, or the last capital of an acronym
// run), so ALL-CAPS names like SSN or EMAIL_ADDRESS pass through as
// plain lowercase.
func normalize(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if r < 'A' || r > 'Z' {
			b.WriteRune(r)
			continue
		}
		prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
		prevUpper := i > 0 && runes[i-1] >= 'A' && runes[i-1] <= 'Z'
		nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
		if prevLower || (prevUpper && nextLower) {
			b.WriteByte('_')
		}
		b.WriteRune(r + ('a' - 'A'))
	}
	return b.String()
}

func tokenize(s string) []string {
	parts := tokenSplitter.Split(s, -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchesTokens reports an exact token match. Multi-token keywords
// (e.g. "credit_card") match when their token sequence appears with
// token boundaries on both sides.
func matchesTokens(kw string, tokens []string) bool {
	if !strings.Contains(kw, "_") {
		for _, t := range tokens {
			if t == kw {
				return true
			}
		}
		return false
	}
	joined := "_" + strings.Join(tokens, "_") + "_"
	return strings.Contains(joined, "_"+kw+"_")
}
