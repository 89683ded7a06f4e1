package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known and discovered server instances",
		Long: `List server instances: everything in the registry plus any live
server processes the registry does not know about (orphans).

Stale rows (recorded but dead) are pruned by 'berth cleanup'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
	return cmd
}

func runList() error {
	m, _, err := newManager()
	if err != nil {
		return err
	}

	views, err := m.List(context.Background())
	if err != nil {
		return err
	}
	if len(views) == 0 {
		info("No server instances")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tPID\tSTATUS\tUPTIME\tDIRECTORY")
	for _, v := range views {
		status := "running"
		switch {
		case !v.Running:
			status = "dead"
		case !v.Recorded:
			status = "orphan"
		}

		uptime := "-"
		if v.Running && !v.StartedAt.IsZero() {
			uptime = time.Since(v.StartedAt).Truncate(time.Second).String()
		}

		dir := v.Directory
		if dir == "" {
			dir = "?"
		}

		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", v.Port, v.PID, status, uptime, dir)
	}
	return w.Flush()
}
