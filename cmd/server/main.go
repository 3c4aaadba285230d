// Command server runs the a11yscout accessibility agent as an MCP server,
// an HTTP API, or one-shot CLI audits.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath   string
	workspaceDir string
	noWorkspace  bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "a11yscout",
		Short: "Accessibility audit agent for web pages",
		Long: `a11yscout answers accessibility questions about a target site.

A query is classified into probes (crawl, axe, keyboard), the probes run
against the page, and a language model explains the findings. Every audit
is archived as a JSON report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a config file layered over the workspace config")
	root.PersistentFlags().StringVar(&opts.workspaceDir, "workspace-dir", "", "Workspace root containing .a11yscout/ (default: discovered from cwd)")
	root.PersistentFlags().BoolVar(&opts.noWorkspace, "no-workspace", false, "Ignore any .a11yscout/ workspace")

	root.AddCommand(
		newServeCmd(opts),
		newAuditCmd(opts),
		newProbeCmd(opts),
		newReportsCmd(opts),
		newInitCmd(),
	)
	return root
}
