package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools available to the agent",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				infos := a.tools.Describe()
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(infos)
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCATEGORY\tCONFIRM\tARGS\tDESCRIPTION")
				for _, t := range infos {
					confirm := ""
					if t.RequiresConfirmation {
						confirm = "yes"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						t.Name, t.Category, confirm, argSummary(t.Required, t.Optional), oneLine(t.Description, 80))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print tool descriptors as JSON")

	cmd.AddCommand(list)
	return cmd
}

// argSummary renders required args bare and optional ones in brackets.
func argSummary(required, optional []string) string {
	parts := make([]string, 0, len(required)+len(optional))
	parts = append(parts, required...)
	for _, o := range optional {
		parts = append(parts, "["+o+"]")
	}
	return strings.Join(parts, " ")
}
