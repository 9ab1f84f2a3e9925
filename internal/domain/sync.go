package domain

import "time"

// Checkpoint marks the first remote list position not yet persisted.
type Checkpoint struct {
	NextOffset int       `json:"next_offset" db:"next_offset"`
	Complete   bool      `json:"complete" db:"complete"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HarvestStats holds statistics about a retrieval run.
type HarvestStats struct {
	Resumed     bool
	StartOffset int
	EndOffset   int
	Pages       int
	Items       int
	Duplicates  int
	// Recovered counts items found behind the checkpoint that were not yet
	// stored, which happens when items ahead of them were deleted remotely.
	Recovered int
	Complete  bool
	LimitHit  bool
	Duration  time.Duration
}

// ExtractionReport holds statistics about an extraction run.
type ExtractionReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Published int
	Failures  []string
	Duration  time.Duration
}

// MaxReportedFailures bounds the example failure lines kept in a report.
const MaxReportedFailures = 10

func (r *ExtractionReport) RecordFailure(line string) {
	r.Failed++
	if len(r.Failures) < MaxReportedFailures {
		r.Failures = append(r.Failures, line)
	}
}
