package domain

// HarvestSummary reports one harvest run across all connectors.
type HarvestSummary struct {
	// Enqueued is the number of jobs enqueued per source kind.
	Enqueued map[SourceKind]int `json:"enqueued"`

	// Errors holds per-connector failure messages. A failed connector
	// does not abort the run; the other sources still ingest.
	Errors map[SourceKind]string `json:"errors,omitempty"`
}

// Total returns the total number of enqueued jobs.
func (s *HarvestSummary) Total() int {
	n := 0
	for _, c := range s.Enqueued {
		n += c
	}
	return n
}
