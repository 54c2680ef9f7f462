package analysis

import "github.com/joseph-ayodele/labwise/constants"

// Finding is one structured lab value.
type Finding struct {
	TestName       string                  `json:"test_name"`
	Value          string                  `json:"value"`
	Unit           string                  `json:"unit,omitempty"`
	ReferenceRange string                  `json:"reference_range,omitempty"`
	Status         constants.FindingStatus `json:"status"`
	Interpretation string                  `json:"interpretation"`
}

// AnalysisResult is what a successful pipeline run produces.
// The three slices are never nil once normalized.
type AnalysisResult struct {
	Results          []Finding `json:"results"`
	CriticalFindings []string  `json:"critical_findings"`
	Summary          string    `json:"summary"`
	Recommendations  []string  `json:"recommendations"`
}

// EnsureSequences replaces nil slices with empty ones so the JSON encoding
// is always [] rather than null.
func (r *AnalysisResult) EnsureSequences() {
	if r.Results == nil {
		r.Results = []Finding{}
	}
	if r.CriticalFindings == nil {
		r.CriticalFindings = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
}

// CountByStatus tallies findings per status.
func (r AnalysisResult) CountByStatus() map[constants.FindingStatus]int {
	out := make(map[constants.FindingStatus]int, 4)
	for _, f := range r.Results {
		out[f.Status]++
	}
	return out
}
