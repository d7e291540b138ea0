package models

// QuasiIdentifierGroup is a set of two or more columns that jointly
// raise re-identification risk. Members are never PII or key columns.
type QuasiIdentifierGroup struct {
	Columns          []ColumnRef `json:"columns"`
	RiskScore        float64     `json:"risk_score"`
	ClusteringMethod string      `json:"clustering_method"`

	// Scoring inputs, kept for the report.
	KAnonymity        float64 `json:"k_anonymity"`
	NormalizedEntropy float64 `json:"normalized_entropy"`
}
