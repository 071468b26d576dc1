package main

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/cuemby/tapeline/pkg/schedule"
	"github.com/cuemby/tapeline/pkg/scheduler"
	"github.com/cuemby/tapeline/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration and schedule without running anything",
	Long: `Parse the configuration and the schedule and print the jobs in the order
the scheduler would consider them, with the route each would take.`,
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

		var largest, total int64
		for _, hd := range cfg.HoldingDisks {
			total += int64(hd.Capacity)
			if int64(hd.Capacity) > largest {
				largest = int64(hd.Capacity)
			}
		}

		q := scheduler.NewQueue(types.QueueWait, scheduler.ComparatorFor(cfg.DumpOrder))
		for _, job := range jobs {
			job.Interface = cfg.InterfaceFor(job.Host)
			q.Add(job)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration OK: %d dumpers, %d holding disks (%s), dumporder %s, degraded policy %s\n",
			cfg.InParallel, len(cfg.HoldingDisks), units.BytesSize(float64(total)), cfg.DumpOrder, cfg.DegradedPolicy)
		fmt.Fprintf(out, "Schedule OK: %d jobs\n\n", len(jobs))

		fmt.Fprintf(out, "%-4s %-20s %-20s %-4s %-5s %-10s %-8s %-12s %s\n", "#", "HOST", "DISK", "PRIO", "LEVEL", "ESTIMATE", "KPS", "INTERFACE", "ROUTE")
		for i, job := range q.Jobs() {
			route := "holding"
			if job.Direct || job.EstimatedSize > largest {
				route = "direct"
			}
			if job.Degraded != nil {
				route += fmt.Sprintf(" (degr lev %d)", job.Degraded.Level)
			}
			fmt.Fprintf(out, "%-4d %-20s %-20s %-4d %-5d %-10s %-8d %-12s %s\n",
				i+1, job.Host, job.Disk, job.Priority, job.Level,
				units.BytesSize(float64(job.EstimatedSize)), job.EstimatedKPS, job.Interface, route)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("schedule", "", "Schedule file listing the planned dumps")
}
