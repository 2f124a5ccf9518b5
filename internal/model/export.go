package model

import "time"

// ResultsExport is the top-level JSON structure for a result log export.
type ResultsExport struct {
	ExportedAt time.Time    `json:"exportedAt"`
	Course     int          `json:"course,omitempty"`
	StudentID  string       `json:"studentId,omitempty"`
	Count      int          `json:"count"`
	Summary    []LabSummary `json:"summary"`
	Results    []TestResult `json:"results"`
}

// LabSummary aggregates results for one course and lab.
type LabSummary struct {
	Course         int     `json:"course"`
	Lab            string  `json:"lab"`
	Attempts       int     `json:"attempts"`
	AvgPercentage  float64 `json:"avgPercentage"`
	BestPercentage float64 `json:"bestPercentage"`
}

// Summarize groups results by course and lab, in order of first appearance.
func Summarize(results []TestResult) []LabSummary {
	type key struct {
		course int
		lab    string
	}
	idx := make(map[key]int)
	var out []LabSummary
	for _, r := range results {
		k := key{r.Course, r.Lab}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, LabSummary{Course: r.Course, Lab: r.Lab})
		}
		s := &out[i]
		s.AvgPercentage = (s.AvgPercentage*float64(s.Attempts) + r.Percentage) / float64(s.Attempts+1)
		s.Attempts++
		if r.Percentage > s.BestPercentage {
			s.BestPercentage = r.Percentage
		}
	}
	return out
}
