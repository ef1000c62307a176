package migrate

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteSummary prints the human-readable run report.
func WriteSummary(w io.Writer, s *Stats) {
	mode := "migration"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "%s %s -> %s (run %s)\n", mode, s.Source, s.Target, s.RunID)
	if s.Backup != "" {
		fmt.Fprintf(w, "  backup:     %s\n", s.Backup)
	}
	for _, r := range s.Results {
		switch {
		case r.Error != "" && r.CountUnknown:
			fmt.Fprintf(w, "  %-24s FAILED  document count unknown: %s\n", r.Name, r.Error)
		case r.Error != "":
			fmt.Fprintf(w, "  %-24s FAILED  %d/%d written: %s\n", r.Name, r.Written, r.Documents, r.Error)
		case r.Empty:
			fmt.Fprintf(w, "  %-24s empty\n", r.Name)
		default:
			fmt.Fprintf(w, "  %-24s %d documents in %d batches\n", r.Name, r.Written, r.Batches)
		}
	}
	migrated := "migrated"
	if s.DryRun {
		migrated = "would migrate"
	}
	fmt.Fprintf(w, "  total:      %d documents, %s %d, failed %d\n", s.TotalDocuments, migrated, s.MigratedDocuments, s.FailedDocuments)
	fmt.Fprintf(w, "  duration:   %s\n", s.Duration.Round(time.Millisecond))
	if len(s.FailedCollections) > 0 {
		fmt.Fprintf(w, "  failed:     %s\n", strings.Join(s.FailedCollections, ", "))
	}
	if s.LogKey != "" {
		fmt.Fprintf(w, "  log:        %s\n", s.LogKey)
	}
}
