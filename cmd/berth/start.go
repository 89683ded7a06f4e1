package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/manager"
)

func startCmd() *cobra.Command {
	var (
		port        int
		findPort    bool
		host        string
		foreground  bool
		openBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "start [directory]",
		Short: "Start a file server for a directory",
		Long: `Start an HTTP file server rooted at the directory (default: the
current directory).

By default the server is detached into the background, its output is
captured to a log file, and the instance is recorded so it can be
stopped or restarted later by port.

Examples:
  berth start ./site
  berth start ./site --port 9000
  berth start ./site --find-port
  berth start ./site --open
  berth start ./site --foreground`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			mode := manager.Background
			if foreground {
				mode = manager.Foreground
			} else if openBrowser {
				mode = manager.BackgroundOpen
			}

			return runStart(manager.StartOptions{
				Directory: dir,
				Port:      port,
				FindPort:  findPort,
				Host:      host,
				Mode:      mode,
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to serve on (default from berth.json)")
	cmd.Flags().BoolVar(&findPort, "find-port", false, "Scan upward for the first free port")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Address to bind (default from berth.json)")
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run attached to the terminal, no registry record")
	cmd.Flags().BoolVarP(&openBrowser, "open", "o", false, "Open the browser once the server is up")

	return cmd
}

func runStart(opts manager.StartOptions) error {
	m, cfg, err := newManager()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Mode == manager.Foreground {
		info("Serving %s in the foreground, Ctrl-C to stop", opts.Directory)
	}

	inst, err := m.Start(ctx, opts)
	if err != nil {
		return err
	}

	if opts.Mode == manager.Foreground {
		success("Server on port %d exited", inst.Port)
		return nil
	}

	success("Serving %s at %s (pid %d)", inst.Directory, cfg.URL(inst.Port), inst.PID)
	info("Log: %s", inst.LogPath)
	info("Stop with: berth stop %d", inst.Port)
	return nil
}
