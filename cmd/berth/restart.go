package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/manager"
)

func restartCmd() *cobra.Command {
	var (
		pid int
		all bool
	)

	cmd := &cobra.Command{
		Use:   "restart [port]",
		Short: "Restart a running server",
		Long: `Stop the server on a port and start a new one on the same port
serving the same directory.

--all restarts every registered instance whose process is still
alive, one at a time, and reports per-port results.

Examples:
  berth restart 8000
  berth restart --pid 4242
  berth restart --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return runRestartAll()
			}
			sel, err := parseSelector(args, pid)
			if err != nil {
				return err
			}
			return runRestart(sel)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Restart by process id instead of port")
	cmd.Flags().BoolVar(&all, "all", false, "Restart every registered live instance")

	return cmd
}

func runRestart(sel manager.Selector) error {
	m, cfg, err := newManager()
	if err != nil {
		return err
	}

	inst, err := m.Restart(context.Background(), sel)
	if err != nil {
		return err
	}
	success("Restarted %s at %s (pid %d)", inst.Directory, cfg.URL(inst.Port), inst.PID)
	return nil
}

func runRestartAll() error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	results := m.RestartAll(context.Background())
	if len(results) == 0 {
		info("Nothing to restart")
		return nil
	}

	ok := 0
	for _, res := range results {
		if res.Err != nil {
			errorMsg("port %d: %s", res.Port, res.Err)
			continue
		}
		success("port %d restarted (pid %d)", res.Port, res.Instance.PID)
		ok++
	}
	info("%d of %d instances restarted", ok, len(results))
	return nil
}
