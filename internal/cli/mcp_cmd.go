package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyeahso/shopagent/internal/mcpserver"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent's tools over MCP on stdin/stdout",
		Long: `Expose every registered tool as an MCP server speaking JSON-RPC over
stdio, so MCP clients can call the same tools the agent uses. Tools that
need confirmation take an extra "confirm" argument that must be true.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcpserver.New(a.tools, a.log)
			a.log.Info().Int("tools", a.tools.Len()).Msg("serving MCP on stdio")
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		},
	}
}
