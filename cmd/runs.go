package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent search runs",
	Long:  "Lists the per-pair search run history, newest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		niche, _ := cmd.Flags().GetString("niche")
		location, _ := cmd.Flags().GetString("location")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListSearchRuns(ctx, store.RunFilter{
			Niche:    niche,
			Location: location,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("niche", "", "filter by niche")
	runsCmd.Flags().String("location", "", "filter by location")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}

// formatRuns writes a tabular list of runs to out.
func formatRuns(out io.Writer, runs []model.LeadSearchRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FINISHED\tNICHE\tLOCATION\tORIGINAL\tDEDUPED\tSAVED\tDRY_RUN")
	_, _ = fmt.Fprintln(w, "--------\t-----\t--------\t--------\t-------\t-----\t-------")

	for _, r := range runs {
		saved := strconv.Itoa(r.SavedCount)
		if r.DryRun {
			saved = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%t\n",
			r.FinishedAt.Format("2006-01-02 15:04"),
			truncate(r.Niche, 24),
			truncate(r.Location, 24),
			r.OriginalCount,
			r.DedupedCount,
			saved,
			r.DryRun,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
