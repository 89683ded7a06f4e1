package main

import (
	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/manager"
)

func openCmd() *cobra.Command {
	var pid int

	cmd := &cobra.Command{
		Use:   "open [port]",
		Short: "Open an instance in the default browser",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelector(args, pid)
			if err != nil {
				return err
			}
			return runOpen(sel)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Select by process id instead of port")

	return cmd
}

func runOpen(sel manager.Selector) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}
	if err := m.OpenBrowser(sel); err != nil {
		return err
	}
	success("Opened %s in the browser", sel)
	return nil
}
