package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rodaine/table"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

// printSummary writes the run totals, failures by kind and per-level counts.
func printSummary(w io.Writer, rep report) {
	agg := rep.agg
	status := "completed"
	if agg.Canceled {
		status = "canceled"
	}
	fmt.Fprintf(w, "\n%s run %s %s in %s\n", agg.Plan, agg.RunID, status, agg.Elapsed.Round(time.Millisecond))

	totals := table.New("Metric", "Value").WithWriter(w)
	totals.AddRow("seed", agg.Seed)
	totals.AddRow("succeeded", humanize.Comma(int64(agg.Succeeded)))
	totals.AddRow("failed", humanize.Comma(int64(agg.Failed)))
	if agg.Records > 0 {
		totals.AddRow("records", humanize.Comma(int64(agg.Records)))
	}
	if agg.Files > 0 {
		totals.AddRow("files", humanize.Comma(int64(agg.Files)))
		totals.AddRow("bytes", humanize.Bytes(uint64(agg.Bytes)))
	}
	if rep.location != "" {
		totals.AddRow("location", rep.location)
	}
	if len(rep.outputs) > 0 {
		totals.AddRow("outputs", strings.Join(rep.outputs, ", "))
	}
	totals.Print()

	if len(agg.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(agg.FailuresByKind))
		for kind := range agg.FailuresByKind {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		fmt.Fprintln(w)
		failures := table.New("Failure", "Count").WithWriter(w)
		for _, kind := range kinds {
			failures.AddRow(kind, humanize.Comma(int64(agg.FailuresByKind[pipeline.FailureKind(kind)])))
		}
		failures.Print()
	}

	if len(agg.Levels) > 0 {
		fmt.Fprintln(w)
		levels := table.New("Level", "Tasks", "Succeeded", "Failed").WithWriter(w)
		for _, lvl := range agg.Levels {
			levels.AddRow(lvl.Name, lvl.Tasks, lvl.Succeeded, lvl.Failed)
		}
		levels.Print()
	}
}
