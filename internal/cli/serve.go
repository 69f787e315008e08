package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/gateway"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true, func(cfg *config.Config) {
				if port != 0 {
					cfg.Gateway.Port = port
				}
				if bind != "" {
					cfg.Gateway.Bind = bind
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			for _, p := range a.plugins.Info() {
				a.log.Debug().Str("plugin", p.ID).Str("version", p.Version).Strs("tools", p.Tools).Msg("plugin loaded")
			}
			a.log.Info().
				Strs("tools", toolNames(a)).
				Bool("rag", a.rag != nil).
				Str("model", a.cfg.LLM.Model).
				Msg("agent ready")

			opts := []gateway.ServerOption{
				gateway.WithRunner(a.runner),
				gateway.WithMemory(a.memory),
				gateway.WithTools(a.tools),
				gateway.WithHooks(a.hooks),
			}
			if a.rag != nil {
				opts = append(opts, gateway.WithRAG(a.rag))
			}

			srv := gateway.New(a.cfg, a.log, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

// newGatewayCmd keeps "gateway run" as an alias of serve.
func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the gateway server",
	}

	run := newServeCmd()
	run.Use = "run"
	cmd.AddCommand(run)
	return cmd
}

func toolNames(a *app) []string {
	list := a.tools.List()
	names := make([]string, 0, len(list))
	for _, m := range list {
		names = append(names, m.Name)
	}
	return names
}
