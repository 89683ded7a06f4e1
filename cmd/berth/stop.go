package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/manager"
)

func stopCmd() *cobra.Command {
	var (
		pid int
		all bool
	)

	cmd := &cobra.Command{
		Use:   "stop [port]",
		Short: "Stop a running server",
		Long: `Stop the server on a port (or a specific pid) and remove its
registry record.

Examples:
  berth stop 8000
  berth stop --pid 4242
  berth stop --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return runStopAll()
			}
			sel, err := parseSelector(args, pid)
			if err != nil {
				return err
			}
			return runStop(sel)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Stop by process id instead of port")
	cmd.Flags().BoolVar(&all, "all", false, "Stop every registered instance")

	return cmd
}

func runStop(sel manager.Selector) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}
	if err := m.Stop(context.Background(), sel); err != nil {
		return err
	}
	success("Stopped %s", sel)
	return nil
}

func runStopAll() error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	insts := m.Registry().ListAll()
	if len(insts) == 0 {
		info("Nothing to stop")
		return nil
	}

	stopped := 0
	for _, inst := range insts {
		if err := m.Stop(context.Background(), manager.Selector{Port: inst.Port}); err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				// Already gone; the stop cleaned the record up.
				continue
			}
			errorMsg("port %d: %s", inst.Port, err)
			continue
		}
		stopped++
	}
	success("Stopped %d of %d instances", stopped, len(insts))
	return nil
}

// parseSelector turns a positional port argument or a --pid flag into
// a selector.
func parseSelector(args []string, pid int) (manager.Selector, error) {
	if pid != 0 {
		return manager.Selector{PID: pid}, nil
	}
	if len(args) == 0 {
		return manager.Selector{}, errors.Newf(errors.CategoryCLI, "a port argument or --pid is required")
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return manager.Selector{}, errors.Newf(errors.CategoryCLI, "%q is not a valid port", args[0])
	}
	return manager.Selector{Port: port}, nil
}
