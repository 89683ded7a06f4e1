package main

import (
	"context"

	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale records and old log files",
		Long: `Reconcile the registry against running processes: records whose
process is gone are removed, and orphaned log files older than the
configured retention are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context())
		},
	}
}

func runCleanup(ctx context.Context) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	result := m.Cleanup(ctx)

	if len(result.PrunedRecords) == 0 && len(result.PrunedLogs) == 0 {
		info("Nothing to clean up")
		return nil
	}
	for _, inst := range result.PrunedRecords {
		info("Pruned record for port %d (pid %d)", inst.Port, inst.PID)
	}
	for _, path := range result.PrunedLogs {
		info("Removed old log %s", path)
	}
	success("Cleanup done: %d record(s), %d log(s)", len(result.PrunedRecords), len(result.PrunedLogs))
	return nil
}
