package models

// SampleStatus marks whether a column sample was drawn successfully.
type SampleStatus string

const (
	SampleStatusOK     SampleStatus = "OK"
	SampleStatusFailed SampleStatus = "FAILED"
)

// SampleData holds up to sampleSize raw values drawn from one column,
// in database-returned order. Values may repeat; nulls are represented
// as nil entries and counted separately.
type SampleData struct {
	Column     ColumnRef    `json:"column"`
	Values     []any        `json:"values"`
	NullCount  int          `json:"null_count"`
	TotalRows  int          `json:"total_rows"`
	Entropy    float64      `json:"entropy,omitempty"`
	HasEntropy bool         `json:"has_entropy"`
	Status     SampleStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
}

// NonNullValues returns the sample values with nulls filtered out.
func (s *SampleData) NonNullValues() []any {
	out := make([]any, 0, len(s.Values))
	for _, v := range s.Values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// NullRatio returns the fraction of drawn rows that were null.
func (s *SampleData) NullRatio() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.NullCount) / float64(s.TotalRows)
}

// FailedSample builds a SampleData for a column whose query failed.
// The batch always carries an entry per requested column, so failures
// are recorded rather than dropped.
func FailedSample(col ColumnRef, msg string) *SampleData {
	return &SampleData{
		Column:  col,
		Status:  SampleStatusFailed,
		Message: msg,
	}
}
