package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"a11yscout-mcp-server/internal/api"
	"a11yscout-mcp-server/internal/mcp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var ssePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and the HTTP API",
		Long: `Serve the probes and the audit agent.

MCP is spoken over stdio unless an SSE port is set. The HTTP API
(POST /tools/<probe>, POST /llm/query, GET /health, GET /metrics) runs
alongside when http.enabled is true.

Examples:
  # stdio MCP server for an editor integration
  a11yscout serve

  # SSE transport on port 8765
  a11yscout serve --sse-port 8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, ssePort)
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "SSE port override (falls back to config; 0 means stdio)")
	return cmd
}

func runServe(parent context.Context, opts *rootOptions, ssePort int) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if ssePort != 0 {
		cfg.MCP.SSEPort = ssePort
	}
	stdio := cfg.MCP.SSEPort == 0

	logger, err := newLogger(cfg.Server, stdio)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withAgent(ctx); err != nil {
		return err
	}

	mcpSrv, err := mcp.NewServer(cfg, mcp.Deps{
		Probes:   a.probes,
		Auditor:  a.agent,
		Reports:  a.archiver,
		Findings: a.findings,
		Logger:   logger.Named("mcp"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		httpSrv, err := api.NewServer(cfg.HTTP, cfg.Target.URL, a.probes, a.agent, a.registry, logger.Named("http"))
		if err != nil {
			return err
		}
		g.Go(httpSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		var err error
		if stdio {
			logger.Info("starting MCP stdio server")
			err = mcpSrv.Start(gctx)
		} else {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			err = mcpSrv.StartSSE(gctx, cfg.MCP.SSEPort)
		}
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		// MCP ending (stdin closed) stops the HTTP API too.
		stop()
		return err
	})

	return g.Wait()
}
