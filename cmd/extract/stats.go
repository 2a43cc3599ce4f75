package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"extract-main-content/internal/analytics"
	"extract-main-content/internal/models"
	"extract-main-content/internal/store"

	"github.com/spf13/cobra"
)

var flagStatsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize extraction history from the store",
	Long: `stats replays the recorded extraction history into an analytics aggregate and
prints the success rate, the per-method breakdown and the failure patterns.

Examples:
  extract stats --store history.db
  extract stats --store history.db --limit 100 --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&flagStatsLimit, "limit", 1000, "Most recent extractions to include")
	statsCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the aggregate as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.store == nil {
		return errors.New("stats needs a store: pass --store or set EXTRACT_STORE_PATH")
	}

	rows, err := rt.store.History(cmd.Context(), flagStatsLimit)
	if err != nil {
		return err
	}
	snap := replay(rows)

	w := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printSnapshot(w, snap)
}

// replay rebuilds an aggregate from history, oldest first
func replay(rows []store.Extraction) models.AnalyticsSnapshot {
	agg := analytics.New()
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		result := models.ExtractionResult{Success: row.Success, Method: row.Method, Error: row.Error}
		agg.Record(row.URL, result, row.Duration)
	}
	return agg.Snapshot()
}

func printSnapshot(w io.Writer, snap models.AnalyticsSnapshot) error {
	if snap.TotalAttempts == 0 {
		_, err := fmt.Fprintln(w, "No extractions recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Attempts\t%d\n", snap.TotalAttempts)
	fmt.Fprintf(tw, "Succeeded\t%d (%.1f%%)\n", snap.SuccessCount, snap.SuccessRate*100)
	fmt.Fprintf(tw, "Average time\t%s\n", snap.AverageExtractionTime.Round(time.Millisecond))
	fmt.Fprintf(tw, "P95 time\t%s\n", snap.P95ExtractionTime.Round(time.Millisecond))
	for _, m := range models.Methods {
		if n := snap.MethodBreakdown[m]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", m, n)
		}
	}
	if len(snap.FailurePatterns) > 0 {
		fmt.Fprintln(tw, "Failures\t")
		for _, fp := range snap.FailurePatterns {
			fmt.Fprintf(tw, "  %s\t%d\n", fp.Pattern, fp.Count)
		}
	}
	return tw.Flush()
}
