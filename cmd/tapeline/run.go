package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/cuemby/tapeline/pkg/events"
	"github.com/cuemby/tapeline/pkg/log"
	"github.com/cuemby/tapeline/pkg/metrics"
	"github.com/cuemby/tapeline/pkg/schedule"
	"github.com/cuemby/tapeline/pkg/scheduler"
	"github.com/cuemby/tapeline/pkg/storage"
	"github.com/cuemby/tapeline/pkg/types"
)

var errIncomplete = errors.New("run incomplete")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled dumps",
	Long: `Run every dump listed in the schedule file and write the images to tape.

The run ends when every job is on tape, has failed or cannot be started.
SIGINT or SIGTERM aborts running dumps and ends the run; a second one ends
it at once. SIGHUP logs the scheduler state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := v.GetString("schedule")
		if path == "" {
			return fmt.Errorf("--schedule is required")
		}
		jobs, err := schedule.Load(path)
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		sub := broker.Subscribe()
		go logEvents(sub)
		defer broker.Unsubscribe(sub)

		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           metrics.Mux(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
				}
			}()
			defer srv.Close()
			log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
		}

		sched, err := scheduler.New(cfg, scheduler.WithBroker(broker))
		if err != nil {
			return err
		}
		defer sched.Close()

		summary, runErr := sched.Run(jobs)
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary)
			saveHistory(cfg, summary)
		}
		if runErr != nil {
			return runErr
		}
		if summary == nil {
			return errIncomplete
		}
		if missing := len(summary.Jobs) - summary.Count(types.OutcomeDone); missing > 0 {
			return fmt.Errorf("%w: %d of %d jobs not on tape", errIncomplete, missing, len(summary.Jobs))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("schedule", "", "Schedule file listing the planned dumps")
	runCmd.Flags().String("metrics-addr", "", "Serve /metrics and health endpoints on this address")
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		e := logger.Debug().Str("event", string(ev.Type)).Str("id", ev.ID)
		for k, val := range ev.Metadata {
			e = e.Str(k, val)
		}
		e.Msg(ev.Message)
	}
}

func saveHistory(cfg *config.Config, summary *types.RunSummary) {
	path := cfg.HistoryDB
	if path == "" {
		path = defaultHistoryDB
	}
	store, err := storage.NewBoltStore(path)
	if err != nil {
		log.Logger.Warn().Err(err).Str("path", path).Msg("Run history not saved")
		return
	}
	defer store.Close()
	if err := store.SaveRun(summary); err != nil {
		log.Logger.Warn().Err(err).Str("path", path).Msg("Run history not saved")
	}
}

func printSummary(w io.Writer, s *types.RunSummary) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  Started:  %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	var flags []string
	if s.Degraded {
		flags = append(flags, "degraded")
	}
	if s.TaperDown {
		flags = append(flags, "taper down")
	}
	if s.Interrupted {
		flags = append(flags, "interrupted")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "  Flags:    %v\n", flags)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-20s %-20s %-5s %-12s %-10s %-14s %s\n", "HOST", "DISK", "LEVEL", "STATUS", "SIZE", "TAPE", "NOTE")
	for _, j := range s.Jobs {
		tape := ""
		if j.Label != "" {
			tape = fmt.Sprintf("%s:%d", j.Label, j.FileNum)
		}
		size := ""
		if j.Size > 0 {
			size = humanize.IBytes(uint64(j.Size))
		}
		note := j.Reason
		if j.Direct && note == "" {
			note = "direct"
		}
		if len(j.Holdings) > 0 {
			note = fmt.Sprintf("%s holding: %v", note, j.Holdings)
		}
		fmt.Fprintf(w, "%-20s %-20s %-5d %-12s %-10s %-14s %s\n", j.Host, j.Disk, j.Level, j.Status, size, tape, note)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d done, %d failed, %d stalled, %d unflushed, %d unscheduled\n",
		s.Count(types.OutcomeDone),
		s.Count(types.OutcomeFailed),
		s.Count(types.OutcomeStalled),
		s.Count(types.OutcomeUnflushed),
		s.Count(types.OutcomeUnscheduled))
}
