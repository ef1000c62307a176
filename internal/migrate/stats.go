package migrate

import (
	"time"

	"github.com/rowjay/docmigrate/internal/catalog"
)

// Stats is the outcome of one run. It is written verbatim as the migration
// log record.
type Stats struct {
	RunID             string                    `json:"runId"`
	Job               string                    `json:"job,omitempty"`
	Source            string                    `json:"source"`
	Target            string                    `json:"target"`
	DryRun            bool                      `json:"dryRun"`
	StartTime         time.Time                 `json:"startTime"`
	EndTime           time.Time                 `json:"endTime"`
	Duration          time.Duration             `json:"-"`
	DurationMillis    int64                     `json:"durationMs"`
	TotalDocuments    int                       `json:"totalDocuments"`
	MigratedDocuments int                       `json:"migratedDocuments"`
	FailedDocuments   int                       `json:"failedDocuments"`
	Collections       []catalog.CollectionStats `json:"collections"`
	Results           []CollectionResult        `json:"results"`
	FailedCollections []string                  `json:"failedCollections"`
	Backup            string                    `json:"backup,omitempty"`
	LogKey            string                    `json:"-"`
}

// CollectionResult is the per-collection outcome. In a dry run Written
// counts the documents that would have been written.
type CollectionResult struct {
	Name             string `json:"name"`
	Documents        int    `json:"documents"`
	Written          int    `json:"written"`
	Batches          int    `json:"batches"`
	BatchesCommitted int    `json:"batchesCommitted"`
	Failed           int    `json:"failed"`
	Empty            bool   `json:"empty,omitempty"`
	// CountUnknown is set when the collection could not be read or counted.
	CountUnknown bool   `json:"countUnknown,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Succeeded reports whether every collection transferred.
func (s *Stats) Succeeded() bool { return len(s.FailedCollections) == 0 }

func (s *Stats) finish(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
	s.DurationMillis = s.Duration.Milliseconds()
}

// failureRecord is written instead of Stats when a run aborts before any
// collection is processed.
type failureRecord struct {
	RunID     string    `json:"runId"`
	Job       string    `json:"job,omitempty"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Failed    []string  `json:"failedCollections,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
