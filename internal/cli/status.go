package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show shopagent status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (commit %s)\n\n", version.Name, version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s", paths.Config)
			if _, err := os.Stat(paths.Config); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprint(out, " (not found, using defaults)")
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			paths.Resolve(&cfg)

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)

			registry := llm.NewRegistryFromConfig(cfg.LLM, log)
			fmt.Fprintf(out, "LLM:     model=%s providers=%s\n", cfg.LLM.Model, strings.Join(registry.Order(), " -> "))

			if cfg.RAG.RAGEnabled() {
				fmt.Fprintf(out, "RAG:     embedding=%s topK=%d chunk=%d/%d\n",
					cfg.LLM.Embedding.Model, cfg.RAG.TopK, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
			} else {
				fmt.Fprintln(out, "RAG:     disabled")
			}

			fmt.Fprintf(out, "Memory:  maxMessages=%d ttl=%s\n", cfg.Memory.MaxMessages, cfg.Memory.TTL())
			fmt.Fprintf(out, "Tools:   confirmation=%v sandbox=%s\n", cfg.Tools.ConfirmationEnabled(), cfg.Tools.SandboxDir)

			storeDesc := cfg.Store.Driver
			if cfg.Store.Driver == "sqlite" {
				storeDesc += " " + cfg.Store.Path
			}
			fmt.Fprintf(out, "Store:   %s\n", storeDesc)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	return cmd
}
