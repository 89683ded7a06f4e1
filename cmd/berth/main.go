package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/config"
	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/manager"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌┐ ┌─┐┬─┐┌┬┐┬ ┬
  ├┴┐├┤ ├┬┘ │ ├─┤
  └─┘└─┘┴└─ ┴ ┴ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "berth",
		Short: "Manage local static file servers",
		Long: `Berth starts, stops, and tracks throwaway HTTP file servers.

Each instance serves one directory on one port. Background instances
are detached, logged to a file, and tracked in a small per-port
registry so they can be stopped, restarted, and inspected later.

Run berth with no arguments for the interactive menu, or use the
subcommands directly:

  berth start ./site --port 8000
  berth list
  berth logs 8000 --follow
  berth stop 8000`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu()
		},
	}

	rootCmd.AddCommand(
		startCmd(),
		stopCmd(),
		restartCmd(),
		listCmd(),
		logsCmd(),
		openCmd(),
		statsCmd(),
		cleanupCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var be *errors.BerthError
		if stderrors.As(err, &be) {
			fmt.Fprint(os.Stderr, be.Format())
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}

// newManager loads configuration and wires a Manager with the real OS
// capabilities.
func newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	m := manager.New(manager.Options{
		Config: cfg,
		Warnf:  warn,
	})
	return m, cfg, nil
}

// printBanner prints the berth ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
