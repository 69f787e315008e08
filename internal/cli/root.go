package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
	verbose  bool

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopagent",
		Short: "shopagent: a tool-using shopping assistant",
		Long:  "shopagent answers customer questions with an LLM, a knowledge base and a set of tools, over HTTP, WebSocket, MCP or the terminal.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Variables already set in the environment win over the file.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			log = logging.New(nil, cliLevel("info"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.shopagent/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level debug")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newRAGCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// cliLevel resolves the log level from flags, falling back to def.
func cliLevel(def string) string {
	switch {
	case logLevel != "":
		return logLevel
	case verbose:
		return "debug"
	default:
		return def
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
