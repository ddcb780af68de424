package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/service"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *domain.ImportResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tOK\tPROCESSED\tADDED\tUPDATED\tFAILED\tDURATION")
	for _, p := range res.Phases {
		ok := "yes"
		switch {
		case p.Skipped:
			ok = "skipped"
		case !p.Success:
			ok = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%dms\n",
			p.Phase, ok, p.Processed, p.Added, p.Updated, p.Failed, p.DurationMs)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nfetched %d, processed %d, added %d, updated %d, failed %d, invalid %d\n",
		res.TotalFetched, res.TotalProcessed, res.TotalAdded, res.TotalUpdated, res.TotalFailed, res.ValidationFailed)
	if res.BulkJobID != "" {
		fmt.Fprintf(w, "bulk job: %s\n", res.BulkJobID)
	}
	for _, src := range sortedKeys(res.JobIDs) {
		fmt.Fprintf(w, "job %s: %s\n", src, res.JobIDs[src])
	}
	if res.Fatal {
		fmt.Fprintf(w, "aborted: %s\n", res.FatalReason)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printSnapshot(w io.Writer, s domain.JobSnapshot) {
	kind := "job"
	if s.Bulk {
		kind = "bulk job"
	}
	fmt.Fprintf(w, "%s %s: %s %.1f%% (processed %d/%d, added %d, updated %d, failed %d)\n",
		kind, s.ID, s.Status, s.PercentComplete, s.Processed, s.Requested, s.Added, s.Updated, s.Failed)
	if s.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", s.ErrorMessage)
	}
}

func printProgress(w io.Writer, p domain.Progress) {
	if p.Done() {
		fmt.Fprintf(w, "done: processed %d, inserted %d, updated %d, failed %d\n",
			p.Processed, p.Inserted, p.Updated, p.Failed)
		return
	}
	fmt.Fprintf(w, "%s batch %d/%d: processed %d, failed %d\n",
		p.CurrentSource, p.CurrentBatch, p.TotalBatches, p.Processed, p.Failed)
}

func printStatus(w io.Writer, s service.ImportStatus) {
	fmt.Fprintf(w, "total trails: %d\n", s.TotalTrails)
	if s.Running {
		fmt.Fprintln(w, "an import is running")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTRAILS")
	for _, src := range sortedKeys(s.SourceBreakdown) {
		fmt.Fprintf(tw, "%s\t%d\n", src, s.SourceBreakdown[src])
	}
	tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
