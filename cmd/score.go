package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/portfolio"
	"github.com/justicehub-au/alma-engine/internal/store"
)

var (
	scoreCurrent bool
	scoreFormat  string
	scoreOutput  string
)

var scoreCmd = &cobra.Command{
	Use:   "score [intervention-id]",
	Short: "Recompute and print portfolio scores",
	Long: `With an intervention ID, recomputes and prints that intervention's
score as JSON. Without one, prints the stored portfolio ranked best-first.

Examples:
  # Recompute one intervention
  score 7f9c0d2e

  # Print the stored score without recomputing
  score 7f9c0d2e --current

  # Ranked portfolio as a table
  score

  # Export the ranking to CSV
  score --format csv --output ranking.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 0 {
			return runRanking(cmd, env)
		}
		id := args[0]

		if scoreCurrent {
			score, err := env.Store.CurrentScore(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(score)
		}

		score, err := env.Refresher.One(ctx, id)
		if err != nil {
			if reason, ok := alerr.IsConsentRestricted(err); ok {
				cmd.PrintErrf("consent restricted: %s\n", reason)
			}
			return err
		}
		return printJSON(score)
	},
}

func runRanking(cmd *cobra.Command, env *engineEnv) error {
	if scoreFormat != "table" && scoreFormat != "csv" {
		return eris.Errorf("score: --format must be table or csv (got %q)", scoreFormat)
	}

	rows, err := env.Store.CurrentScores(cmd.Context(), store.InterventionFilter{})
	if err != nil {
		return err
	}
	portfolio.Rank(rows)

	out := os.Stdout
	if scoreOutput != "" {
		f, err := os.Create(scoreOutput)
		if err != nil {
			return eris.Wrapf(err, "score: create %s", scoreOutput)
		}
		defer f.Close()
		out = f
	}

	if scoreFormat == "csv" {
		return writeRankingCSV(out, rows)
	}
	return writeRankingTable(out, rows)
}

func writeRankingTable(out *os.File, rows []store.ScoreRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tNAME\tCOMPOSITE\tRECOMMENDATION\tSCORED AT")
	for i, r := range rows {
		if r.Score == nil {
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\t-\n", i+1, r.Intervention.ID, r.Intervention.Name)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%s\t%s\n",
			i+1, r.Intervention.ID, r.Intervention.Name,
			r.Score.Composite, r.Score.Recommendation,
			r.Score.ScoredAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func writeRankingCSV(out *os.File, rows []store.ScoreRow) error {
	cw := csv.NewWriter(out)
	defer cw.Flush()

	header := []string{"rank", "id", "name", "composite", "recommendation", "scored_at"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for i, r := range rows {
		row := []string{fmt.Sprintf("%d", i+1), r.Intervention.ID, r.Intervention.Name, "", "", ""}
		if r.Score != nil {
			row[3] = fmt.Sprintf("%.3f", r.Score.Composite)
			row[4] = string(r.Score.Recommendation)
			row[5] = r.Score.ScoredAt.Format("2006-01-02T15:04:05Z07:00")
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	return nil
}

var historyLimit int

var scoreHistoryCmd = &cobra.Command{
	Use:   "history <intervention-id>",
	Short: "Print an intervention's score history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		hist, err := env.Store.ScoreHistory(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		return printJSON(hist)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreCurrent, "current", false, "print the stored score without recomputing")
	scoreCmd.Flags().StringVar(&scoreFormat, "format", "table", "ranking output format: table or csv")
	scoreCmd.Flags().StringVar(&scoreOutput, "output", "", "ranking output file path (default: stdout)")
	scoreHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "max rows to print")
	scoreCmd.AddCommand(scoreHistoryCmd)
	rootCmd.AddCommand(scoreCmd)
}
