package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/xtxerr/tally/internal/storage/retention"
	"github.com/xtxerr/tally/internal/storage/stats"
	"github.com/xtxerr/tally/internal/storage/types"
)

// wantJSON resolves --format. auto picks a table for terminals and JSON
// for pipes.
func (a *app) wantJSON() bool {
	switch a.format {
	case "json":
		return true
	case "table":
		return false
	}

	f, ok := a.out.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(a.out)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	return t
}

func (a *app) printSamples(samples []types.Sample) error {
	if a.wantJSON() {
		if samples == nil {
			samples = []types.Sample{}
		}
		return a.printJSON(samples)
	}

	t := a.table("Time", "Value", "Dimensions")
	for _, s := range samples {
		t.Append([]string{
			s.TimestampTime().Format(time.RFC3339Nano),
			strconv.FormatFloat(s.Value, 'g', -1, 64),
			formatDims(s.Dimensions),
		})
	}
	t.Render()
	fmt.Fprintf(a.out, "%d samples\n", len(samples))
	return nil
}

func (a *app) printStatistics(metric string, st stats.Statistics) error {
	if a.wantJSON() {
		return a.printJSON(st)
	}

	t := a.table("Metric", "Count", "Min", "Max", "Sum", "Avg", "Median", "P95")
	t.Append([]string{
		metric,
		strconv.Itoa(st.Count),
		formatOptional(st.Min),
		formatOptional(st.Max),
		formatOptional(st.Sum),
		formatOptional(st.Avg),
		formatOptional(st.Median),
		formatOptional(st.P95),
	})
	t.Render()
	return nil
}

func (a *app) printCleanup(r retention.CleanupResult) error {
	if a.wantJSON() {
		errs := make([]string, len(r.Errors))
		for i, err := range r.Errors {
			errs[i] = err.Error()
		}
		return a.printJSON(struct {
			DryRun       bool      `json:"dry_run"`
			Cutoff       time.Time `json:"cutoff"`
			FilesDeleted int       `json:"files_deleted"`
			BytesFreed   int64     `json:"bytes_freed"`
			FilesKept    int       `json:"files_kept"`
			Deleted      []string  `json:"deleted"`
			Errors       []string  `json:"errors"`
		}{r.DryRun, r.Cutoff, r.FilesDeleted, r.BytesFreed, r.FilesSkipped, r.Deleted, errs})
	}

	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	for _, name := range r.Deleted {
		fmt.Fprintf(a.out, "%s %s\n", verb, name)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(a.out, "error: %v\n", err)
	}
	fmt.Fprintf(a.out, "%s %d shards (%d bytes), kept %d, cutoff %s\n",
		verb, r.FilesDeleted, r.BytesFreed, r.FilesSkipped, r.Cutoff.Format(time.RFC3339))

	return r.Err()
}

func formatDims(dims map[string]string) string {
	if len(dims) == 0 {
		return "-"
	}
	pairs := make([]string, 0, len(dims))
	for k, v := range dims {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}
