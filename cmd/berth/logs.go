package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/manager"
)

func logsCmd() *cobra.Command {
	var (
		pid    int
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs [port]",
		Short: "Show a background instance's log",
		Long: `Print the captured output of a background instance.

Examples:
  berth logs 8000
  berth logs 8000 --lines 100
  berth logs 8000 --follow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelector(args, pid)
			if err != nil {
				return err
			}
			return runLogs(sel, lines, follow)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Select by process id instead of port")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming as the log grows")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of trailing lines to print")

	return cmd
}

func runLogs(sel manager.Selector, lines int, follow bool) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	path, err := m.LogPath(sel)
	if err != nil {
		return err
	}

	tail, err := manager.TailFile(path, lines)
	if err != nil {
		return err
	}
	for _, line := range tail {
		fmt.Println(line)
	}

	if !follow {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return manager.Follow(ctx, path, os.Stdout)
}
