package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/manager"
)

func statsCmd() *cobra.Command {
	var pid int

	cmd := &cobra.Command{
		Use:   "stats [port]",
		Short: "Show runtime stats for an instance",
		Long: `Show uptime, memory, CPU time, and request counts for a tracked
instance. Request counts come from the instance's own /metrics
endpoint and are unavailable for custom server commands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelector(args, pid)
			if err != nil {
				return err
			}
			return runStats(sel)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Select by process id instead of port")

	return cmd
}

func runStats(sel manager.Selector) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	stats, err := m.Stats(sel)
	if err != nil {
		return err
	}

	status := "running"
	if !stats.Running {
		status = "dead"
	}

	fmt.Printf("  Port:       %d\n", stats.Instance.Port)
	fmt.Printf("  PID:        %d (%s)\n", stats.Instance.PID, status)
	fmt.Printf("  Directory:  %s\n", stats.Instance.Directory)
	fmt.Printf("  Started:    %s\n", stats.Instance.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Uptime:     %s\n", stats.Uptime)
	if stats.Running {
		fmt.Printf("  Memory:     %s\n", formatBytes(stats.RSSBytes))
		fmt.Printf("  CPU time:   %.2fs\n", stats.CPUSeconds)
		if stats.NumThreads > 0 {
			fmt.Printf("  Threads:    %d\n", stats.NumThreads)
		}
	}
	if stats.Instance.LogPath != "" {
		fmt.Printf("  Log:        %s (%s)\n", stats.Instance.LogPath, formatBytes(stats.LogSizeBytes))
	}
	if stats.RequestsTotal >= 0 {
		fmt.Printf("  Requests:   %d\n", stats.RequestsTotal)
	}
	return nil
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
