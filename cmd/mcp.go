package cmd

import (
	"os"

	"github.com/agentic-research/canvas/internal/agent"
	"github.com/agentic-research/canvas/internal/config"
	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve canvas tools to coding agents over MCP (stdio)",
	Long: `Runs an MCP server on stdin/stdout exposing canonicalize_tree,
hash_settings, list_components and read_draft. Logs go to stderr so they
never interleave with protocol messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := cfg.Logger(os.Stderr)
		ctx := ctxlog.WithLogger(cmd.Context(), logger)

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		s := agent.NewServer(&agent.Tools{Registry: a.registry, Drafts: a.drafts, Kinds: a.kinds}, Version)
		return server.ServeStdio(s)
	},
}
