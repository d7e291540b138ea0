package detection

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/privsense/privsense/pkg/models"
)

// Emission gates: a pattern must fully match at least 60% of the
// non-null values, and at least 5 non-null values must be present.
const (
	minMatchFraction  = 0.6
	minNonNullSamples = 5
)

// pattern pairs a compiled regex with its PII type and base confidence.
// Validate, when set, must also pass for a value to count as a match
// (the credit-card Luhn check).
type pattern struct {
	name       string
	piiType    models.PiiType
	confidence float64
	re         *regexp.Regexp
	validate   func(string) bool
}

var patternLibrary = []pattern{
	{
		name:       "email",
		piiType:    models.PiiTypeEmail,
		confidence: 0.95,
		re:         regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`),
	},
	{
		// Area 000/666/9xx, group 00, and serial 0000 are never issued.
		name:       "ssn",
		piiType:    models.PiiTypeSSN,
		confidence: 0.95,
		re:         regexp.MustCompile(`^(?:(\d{3})-(\d{2})-(\d{4})|(\d{3})(\d{2})(\d{4}))$`),
		validate:   validSSN,
	},
	{
		name:       "credit_card",
		piiType:    models.PiiTypeCreditCard,
		confidence: 0.9,
		re:         regexp.MustCompile(`^(?:\d[ \-]?){13,19}$`),
		validate:   luhnValid,
	},
	{
		name:       "phone",
		piiType:    models.PiiTypePhone,
		confidence: 0.85,
		re:         regexp.MustCompile(`^(?:\+?1[ \-.]?)?\(?\d{3}\)?[ \-.]?\d{3}[ \-.]?\d{4}$|^\+[1-9]\d{6,14}$`),
	},
	{
		name:       "ipv4",
		piiType:    models.PiiTypeIPAddress,
		confidence: 0.9,
		re:         regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)$`),
	},
	{
		name:       "ipv6",
		piiType:    models.PiiTypeIPAddress,
		confidence: 0.9,
		re:         regexp.MustCompile(`^(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}$|^(?:[0-9A-Fa-f]{1,4}:)*::(?:[0-9A-Fa-f]{1,4}:)*[0-9A-Fa-f]{0,4}$`),
	},
	{
		name:       "iso_date",
		piiType:    models.PiiTypeDateOfBirth,
		confidence: 0.6,
		re:         regexp.MustCompile(`^\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])(?:[T ].*)?$`),
	},
}

// RegexStrategy applies the pattern library to non-null sample values.
type RegexStrategy struct{}

// NewRegexStrategy creates the value-pattern strategy.
func NewRegexStrategy() *RegexStrategy {
	return &RegexStrategy{}
}

// Method implements Strategy.
func (s *RegexStrategy) Method() models.DetectionMethod {
	return models.DetectionMethodRegex
}

// Evaluate counts full matches per pattern and emits a candidate when
// the match fraction and sample floor gates pass. Confidence is
// baseConfidence scaled by the match fraction.
func (s *RegexStrategy) Evaluate(_ context.Context, col models.ColumnInfo, sample *models.SampleData) ([]models.PiiCandidate, error) {
	if sample == nil {
		return nil, nil
	}

	values := make([]string, 0, len(sample.Values))
	for _, v := range sample.Values {
		if v == nil {
			continue
		}
		values = append(values, strings.TrimSpace(fmt.Sprintf("%v", v)))
	}

	n := len(values)
	if n < minNonNullSamples {
		return nil, nil
	}
	required := int(math.Ceil(minMatchFraction * float64(n)))

	var candidates []models.PiiCandidate
	for _, p := range patternLibrary {
		m := 0
		for _, v := range values {
			if !p.re.MatchString(v) {
				continue
			}
			if p.validate != nil && !p.validate(v) {
				continue
			}
			m++
		}
		if m < required {
			continue
		}
		candidates = append(candidates, models.PiiCandidate{
			Column:     col.Ref(),
			PiiType:    p.piiType,
			Confidence: p.confidence * float64(m) / float64(n),
			Method:     models.DetectionMethodRegex,
			Evidence:   fmt.Sprintf("pattern %s matched %d/%d values", p.name, m, n),
		})
	}
	return candidates, nil
}

// luhnValid runs the Luhn checksum over the digits of a candidate card
// number, ignoring spaces and dashes.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validSSN applies SSA issuance exclusions to a matched SSN string.
func validSSN(s string) bool {
	digits := strings.NewReplacer("-", "").Replace(s)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[0:3], digits[3:5], digits[5:9]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}
