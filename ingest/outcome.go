package ingest

import (
	"sort"
)

// Outcome is the terminal state of one ingested item.
type Outcome string

const (
	Stored          Outcome = "stored"
	DuplicateRaw    Outcome = "duplicate_raw"
	DuplicateStored Outcome = "duplicate_stored"
	Failed          Outcome = "failed"
)

// Reason classifies a Failed outcome.
type Reason string

const (
	ReasonEmptyField  Reason = "empty_field"
	ReasonDecode      Reason = "decode_error"
	ReasonNotImage    Reason = "not_an_image"
	ReasonInvalidPath Reason = "invalid_path"
	ReasonConversion  Reason = "conversion_error"
	ReasonWrite       Reason = "write_error"
	ReasonIndex       Reason = "index_error"
)

// Result reports what happened to one item.
type Result struct {
	Source     string  `json:"source"`
	Outcome    Outcome `json:"outcome"`
	Reason     Reason  `json:"reason,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	RelPath    string  `json:"rel_path,omitempty"`
	RawHash    string  `json:"raw_hash,omitempty"`
	StoredHash string  `json:"stored_hash,omitempty"`
}

// FailureGroup lists the sources that failed for one reason.
type FailureGroup struct {
	Reason  Reason   `json:"reason"`
	Count   int      `json:"count"`
	Sources []string `json:"sources"`
}

// Summary aggregates one ingestion run. Duplicates are never counted as failures.
type Summary struct {
	RunID           string         `json:"run_id"`
	Stored          int            `json:"stored"`
	DuplicateRaw    int            `json:"duplicate_raw"`
	DuplicateStored int            `json:"duplicate_stored"`
	Failed          int            `json:"failed"`
	Failures        []FailureGroup `json:"failures,omitempty"`
	Results         []Result       `json:"results"`
}

// Skipped is the number of duplicates.
func (s *Summary) Skipped() int {
	return s.DuplicateRaw + s.DuplicateStored
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case Stored:
		s.Stored++
	case DuplicateRaw:
		s.DuplicateRaw++
	case DuplicateStored:
		s.DuplicateStored++
	case Failed:
		s.Failed++
		for i := range s.Failures {
			if s.Failures[i].Reason == r.Reason {
				s.Failures[i].Count++
				s.Failures[i].Sources = append(s.Failures[i].Sources, r.Source)
				return
			}
		}
		s.Failures = append(s.Failures, FailureGroup{Reason: r.Reason, Count: 1, Sources: []string{r.Source}})
		sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Reason < s.Failures[j].Reason })
	}
}

// merge folds another summary's results into s.
func (s *Summary) merge(other *Summary) {
	for _, r := range other.Results {
		s.add(r)
	}
}
