package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/theapemachine/nire/pkg/service"
	"github.com/theapemachine/nire/pkg/tools"
)

var (
	addrFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory over HTTP or MCP",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	httpCmd = &cobra.Command{
		Use:   "http",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, cfg, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(context.Background())

			if err := eng.Start(ctx); err != nil {
				return err
			}

			addr := cfg.Server.Addr
			if addrFlag != "" {
				addr = addrFlag
			}

			srv := service.NewMemoryServer(eng)
			errs := make(chan error, 1)

			go func() {
				errs <- srv.Start(addr)
			}()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")

			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return srv.Shutdown(shutdown)
		},
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(context.Background())

			if err := eng.Start(ctx); err != nil {
				return err
			}

			return server.ServeStdio(tools.NewMemoryServer(eng, version))
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(httpCmd)
	serveCmd.AddCommand(mcpCmd)

	httpCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "Address to listen on (overrides server.addr)")
}

var longServe = `
Serve the memory with its background reconciliation running.

Examples:
  # Serve the HTTP API on the configured address
  nire serve http

  # Serve on another port
  nire serve http --addr :8080

  # Serve the memory tools to an MCP client over stdio
  nire serve mcp
`
