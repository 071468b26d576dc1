package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/tapeline/pkg/storage"
	"github.com/cuemby/tapeline/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs",
	Long: `List the runs recorded in the history database, newest first, or show
one run's job outcomes with --run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := historyPath()
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		asYAML := v.GetBool("yaml")

		if id := v.GetString("run"); id != "" {
			run, err := store.GetRun(id)
			if err != nil {
				return err
			}
			if asYAML {
				return writeYAML(out, run)
			}
			printSummary(out, run)
			return nil
		}

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		if asYAML {
			return writeYAML(out, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded")
			return nil
		}
		fmt.Fprintf(out, "%-36s %-16s %-10s %-6s %-6s %-6s %s\n", "RUN ID", "STARTED", "DURATION", "JOBS", "DONE", "OTHER", "FLAGS")
		for _, r := range runs {
			done := r.Count(types.OutcomeDone)
			flags := ""
			if r.Degraded {
				flags += "degraded "
			}
			if r.TaperDown {
				flags += "taper-down "
			}
			if r.Interrupted {
				flags += "interrupted"
			}
			fmt.Fprintf(out, "%-36s %-16s %-10s %-6d %-6d %-6d %s\n",
				r.RunID,
				humanize.Time(r.StartedAt),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
				len(r.Jobs), done, len(r.Jobs)-done, flags)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune [RUN_ID...]",
	Short: "Delete recorded runs",
	Long: `Delete the named runs from the history database. With --keep N every
run except the newest N is deleted as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keep := v.GetInt("keep")
		if len(args) == 0 && keep <= 0 {
			return fmt.Errorf("name the runs to delete or pass --keep")
		}

		path, err := historyPath()
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		ids := append([]string(nil), args...)
		if keep > 0 {
			runs, err := store.ListRuns()
			if err != nil {
				return err
			}
			for i := keep; i < len(runs); i++ {
				ids = append(ids, runs[i].RunID)
			}
		}

		out := cmd.OutOrStdout()
		deleted := make(map[string]bool, len(ids))
		for _, id := range ids {
			if deleted[id] {
				continue
			}
			if err := store.DeleteRun(id); err != nil {
				return err
			}
			deleted[id] = true
			fmt.Fprintf(out, "Deleted run %s\n", id)
		}
		fmt.Fprintf(out, "%d runs deleted\n", len(deleted))
		return nil
	},
}

func init() {
	historyCmd.Flags().String("run", "", "Show the job outcomes of one run")
	historyCmd.Flags().Bool("yaml", false, "Print as YAML")

	historyPruneCmd.Flags().Int("keep", 0, "Keep only the newest N runs")
	historyCmd.AddCommand(historyPruneCmd)
}

func writeYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}
