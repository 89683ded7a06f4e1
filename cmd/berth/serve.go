package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/berth-dev/berth/internal/serve"
)

func serveCmd() *cobra.Command {
	var (
		dir       string
		host      string
		port      int
		noListing bool
		tracing   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the file server in this process",
		Long: `Run the HTTP file server directly in this process. This is what
background instances run under the hood; it is also useful on its own
when you want the server in the current terminal without tracking.

The server exposes /healthz and /metrics alongside the served files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := serve.New(serve.Options{
				Directory: dir,
				Host:      host,
				Port:      port,
				Listing:   !noListing,
				Tracing:   tracing,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to serve")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Address to bind")
	cmd.Flags().IntVar(&port, "port", 8000, "Port to listen on")
	cmd.Flags().BoolVar(&noListing, "no-listing", false, "Disable directory listings")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "Enable OpenTelemetry tracing middleware")

	return cmd
}
