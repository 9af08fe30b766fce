package ingest

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ragctx/internal/manifest"
)

// WriteSummary prints the human-readable outcome of a run.
func WriteSummary(w io.Writer, run *manifest.Run) error {
	s := run.Summary
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", run.ID)
	fmt.Fprintf(tw, "Collection\t%s\n", run.Collection)
	fmt.Fprintf(tw, "State\t%s\n", run.State)
	if run.FinishedAt != nil {
		fmt.Fprintf(tw, "Duration\t%s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(tw, "Documents processed\t%d\n", s.Documents)
	fmt.Fprintf(tw, "Documents empty\t%d\n", s.DocumentsEmpty)
	fmt.Fprintf(tw, "Documents failed\t%d\n", s.DocumentsFailed)
	fmt.Fprintf(tw, "Chunks created\t%d\n", s.Chunks)
	fmt.Fprintf(tw, "Chunks indexed\t%d\n", s.Indexed)
	fmt.Fprintf(tw, "Chunks skipped (empty)\t%d\n", s.Skipped)
	fmt.Fprintf(tw, "Chunks failed\t%d\n", s.Failed)
	if s.Resumed > 0 {
		fmt.Fprintf(tw, "Chunks already indexed\t%d\n", s.Resumed)
	}
	if run.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", run.Error)
	}
	return tw.Flush()
}
