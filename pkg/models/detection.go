package models

// PiiType classifies the kind of personal data found in a column.
type PiiType string

const (
	PiiTypeUnknown        PiiType = "UNKNOWN"
	PiiTypeEmail          PiiType = "EMAIL"
	PiiTypeSSN            PiiType = "SSN"
	PiiTypePhone          PiiType = "PHONE"
	PiiTypeName           PiiType = "NAME"
	PiiTypeAddress        PiiType = "ADDRESS"
	PiiTypeCreditCard     PiiType = "CREDIT_CARD"
	PiiTypeIPAddress      PiiType = "IP_ADDRESS"
	PiiTypeDateOfBirth    PiiType = "DATE_OF_BIRTH"
	PiiTypePassport       PiiType = "PASSPORT"
	PiiTypeDriversLicense PiiType = "DRIVERS_LICENSE"
	PiiTypeBankAccount    PiiType = "BANK_ACCOUNT"
	PiiTypeUsername       PiiType = "USERNAME"
	PiiTypeOrganization   PiiType = "ORGANIZATION"
	PiiTypeLocation       PiiType = "LOCATION"
	PiiTypeGender         PiiType = "GENDER"
	PiiTypeNationalID     PiiType = "NATIONAL_ID"
)

// DetectionMethod identifies which strategy produced a candidate.
type DetectionMethod string

const (
	DetectionMethodHeuristic DetectionMethod = "HEURISTIC"
	DetectionMethodRegex     DetectionMethod = "REGEX"
	DetectionMethodNER       DetectionMethod = "NER"
)

// Rank orders methods for winner tie-breaking: REGEX beats HEURISTIC
// beats NER. Lower is better.
func (m DetectionMethod) Rank() int {
	switch m {
	case DetectionMethodRegex:
		return 0
	case DetectionMethodHeuristic:
		return 1
	case DetectionMethodNER:
		return 2
	default:
		return 3
	}
}

// PiiCandidate is a tentative PII determination emitted by a single
// strategy. Candidates are immutable once created.
type PiiCandidate struct {
	Column     ColumnRef       `json:"column"`
	PiiType    PiiType         `json:"pii_type"`
	Confidence float64         `json:"confidence"`
	Method     DetectionMethod `json:"method"`
	Evidence   string          `json:"evidence,omitempty"`
}

// DetectionResult is the per-column outcome of the detection pipeline,
// later annotated by the quasi-identifier analyzer.
type DetectionResult struct {
	Column     ColumnInfo     `json:"column"`
	Candidates []PiiCandidate `json:"candidates"`

	// Winner, per pipeline selection rules.
	HasPii      bool    `json:"has_pii"`
	WinningType PiiType `json:"winning_type"`
	Confidence  float64 `json:"confidence"`

	// Quasi-identifier annotations, set by the analyzer.
	IsQuasiIdentifier        bool        `json:"is_quasi_identifier"`
	QuasiIdentifierRiskScore float64     `json:"quasi_identifier_risk_score,omitempty"`
	ClusteringMethod         string      `json:"clustering_method,omitempty"`
	CorrelatedColumns        []ColumnRef `json:"correlated_columns,omitempty"`
}
