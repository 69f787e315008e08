package builtin

import (
	"context"
	"strings"

	"github.com/soyeahso/shopagent/internal/tools"
)

type snippet struct {
	SourceID string  `json:"sourceId"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

func searchKnowledge(s Searcher) tools.Metadata {
	return tools.Metadata{
		Name:        ToolSearchKnowledge,
		Description: "Search the store's knowledge base (policies, FAQs, product guides) and return the most relevant passages.",
		Category:    "knowledge",
		Schema: tools.Schema{
			{Name: "query", Kind: tools.KindString, Description: "what to look for", Required: true},
			{Name: "top_k", Kind: tools.KindInteger, Description: "maximum number of passages"},
		},
		Execute: func(ctx context.Context, args tools.Args) (tools.Result, error) {
			q := s.DefaultQuery(strings.TrimSpace(args.String("query", "")))
			if k := args.Int("top_k", 0); k > 0 {
				q.TopK = k
			}

			results, err := s.Search(ctx, q)
			if err != nil {
				return tools.Result{}, err
			}

			snippets := make([]snippet, 0, len(results))
			for _, r := range results {
				snippets = append(snippets, snippet{SourceID: r.SourceID, Title: r.Title, Content: r.Content, Score: r.Score})
			}
			res := tools.OK(map[string]any{"query": q.Text, "results": snippets})
			if len(snippets) == 0 {
				res.Message = "no matching passages"
			}
			return res, nil
		},
	}
}
