package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/spf13/cobra"
)

func newRAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Manage the knowledge base",
	}

	cmd.AddCommand(newRAGIngestCmd())
	cmd.AddCommand(newRAGSearchCmd())
	cmd.AddCommand(newRAGSourcesCmd())
	cmd.AddCommand(newRAGRemoveCmd())
	cmd.AddCommand(newRAGClearCacheCmd())
	return cmd
}

func newRAGIngestCmd() *cobra.Command {
	var (
		sourceID string
		title    string
		meta     []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Index a text file, replacing any earlier version of the same source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if sourceID == "" {
				sourceID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.requireRAG()
				if err != nil {
					return err
				}
				res, err := engine.Upsert(ctx, domain.Document{
					SourceID: sourceID,
					Title:    title,
					Content:  string(content),
					Metadata: metadata,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d chunk(s)\n", sourceID, res.Count)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "source id (default: file name without extension)")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	return cmd
}

func newRAGSearchCmd() *cobra.Command {
	var (
		topK      int
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a similarity search against the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.requireRAG()
				if err != nil {
					return err
				}
				q := engine.DefaultQuery(strings.Join(args, " "))
				if topK > 0 {
					q.TopK = topK
				}
				if cmd.Flags().Changed("threshold") {
					q.ScoreThreshold = threshold
				}
				results, err := engine.Search(ctx, q)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(results)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "no results")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(out, "%d. [%.3f] %s", i+1, r.Score, r.SourceID)
					if r.Title != "" {
						fmt.Fprintf(out, " (%s)", r.Title)
					}
					fmt.Fprintf(out, "\n   %s\n", oneLine(r.Content, 160))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", 0, "number of results (default from rag.topK)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newRAGSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List indexed sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.requireRAG()
				if err != nil {
					return err
				}
				sources, err := engine.Sources(ctx)
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no sources indexed")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tTITLE\tCHUNKS\tUPDATED")
				for _, s := range sources {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.SourceID, s.Title, s.Chunks, s.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func newRAGRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source>",
		Short: "Delete every chunk of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				engine, err := a.requireRAG()
				if err != nil {
					return err
				}
				n, err := engine.RemoveBySource(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunk(s) from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newRAGClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached embeddings of the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.requireRAG(); err != nil {
					return err
				}
				n, err := a.embeds.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached embedding(s)\n", n)
				return nil
			})
		},
	}
}

// parseMetadata turns key=value pairs into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// oneLine collapses whitespace and truncates s to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
