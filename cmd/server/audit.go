package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"a11yscout-mcp-server/internal/agent"
	"a11yscout-mcp-server/internal/config"
	"a11yscout-mcp-server/internal/probe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <query...>",
		Short: "Run one audit cycle and print the report",
		Long: `Run a full audit cycle for a natural-language query against the
configured target and print the archived report as JSON.

Examples:
  a11yscout audit "are all buttons reachable by keyboard?"
  a11yscout audit check colour contrast on the home page`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runAudit(ctx context.Context, opts *rootOptions, query string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := setupCLI(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withAgent(ctx); err != nil {
		return err
	}

	rec, err := a.agent.RunCycle(ctx, query)
	var perr *agent.PersistenceError
	if err != nil && !(rec != nil && errors.As(err, &perr)) {
		return err
	}
	if perr != nil {
		fmt.Fprintf(errOut, "warning: %v\n", perr)
	}
	return writeJSON(out, rec)
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:       "probe <crawl|axe|keyboard>",
		Short:     "Run a single probe and print its result",
		ValidArgs: []string{string(probe.Crawl), string(probe.Axe), string(probe.Keyboard)},
		Args:      cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := probe.ParseAction(args[0])
			if !ok {
				return fmt.Errorf("unknown probe %q", args[0])
			}
			return runProbe(cmd.Context(), opts, action, url, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Page to probe (default: target.url)")
	return cmd
}

func runProbe(ctx context.Context, opts *rootOptions, action probe.Action, url string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := setupCLI(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if url == "" {
		url = a.cfg.Target.URL
	}
	result, err := a.probes[action].Run(ctx, url)
	if err != nil {
		return fmt.Errorf("%s probe: %w", action, err)
	}
	return writeJSON(out, result)
}

// setupCLI wires the app with logs on stderr.
func setupCLI(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server, false)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Debug("cli ready", zap.String("target", cfg.Target.URL), zap.String("probe_mode", cfg.Probes.Mode))
	return a, nil
}

func newReportsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reports [name]",
		Short: "List archived reports or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runReports(agent.NewArchiver(cfg.Reports.Dir), args, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of reports to list")
	return cmd
}

func runReports(archiver *agent.Archiver, args []string, limit int, out io.Writer) error {
	if len(args) == 1 {
		rec, err := archiver.Load(args[0])
		if err != nil {
			return err
		}
		return writeJSON(out, rec)
	}

	reports, err := archiver.List()
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintf(out, "no reports in %s\n", archiver.Dir())
		return nil
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	for _, r := range reports {
		fmt.Fprintf(out, "%s\t%s\t%d\n", r.Name, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Size)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .a11yscout workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if err := config.InitWorkspace(root); err != nil {
				return err
			}
			cmd.Printf("initialized workspace in %s\n", root)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
