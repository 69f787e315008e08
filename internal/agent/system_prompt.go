package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/tools"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName string
	Persona   string
	Now       time.Time
	Tools     []tools.Info
	Summary   string
	Knowledge []rag.Result
}

// BuildSystemPrompt constructs the system prompt for the LLM. Knowledge is
// expected ranked by score, highest first.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	if cfg.AgentName != "" {
		fmt.Fprintf(&b, "Your name is %s.\n", cfg.AgentName)
	}
	if cfg.Persona != "" {
		b.WriteString(strings.TrimSpace(cfg.Persona))
		b.WriteString("\n")
	}
	if !cfg.Now.IsZero() {
		fmt.Fprintf(&b, "Current date: %s\n", cfg.Now.Format("2006-01-02"))
	}

	if len(cfg.Tools) > 0 {
		b.WriteString("\n## Available Tools\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			fmt.Fprintf(&b, "Required parameters: %s\n", paramList(t.Required))
			fmt.Fprintf(&b, "Optional parameters: %s\n", paramList(t.Optional))
			if t.RequiresConfirmation {
				b.WriteString("The user must confirm this tool before it runs.\n")
			}
			b.WriteString("\n")
		}
	}

	if s := strings.TrimSpace(cfg.Summary); s != "" {
		b.WriteString("\n## Conversation Summary\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}

	if len(cfg.Knowledge) > 0 {
		b.WriteString("\n## Knowledge\n\n")
		b.WriteString("Excerpts retrieved for the latest message, most relevant first:\n\n")
		for i, k := range cfg.Knowledge {
			source := k.SourceID
			if k.Title != "" {
				source = fmt.Sprintf("%s (%s)", k.Title, k.SourceID)
			}
			fmt.Fprintf(&b, "[%d] source: %s, score: %.3f\n%s\n\n", i+1, source, k.Score, strings.TrimSpace(k.Content))
		}
	}

	return b.String()
}

func paramList(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
