package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{
		AgentName: "Shopagent",
		Persona:   "You are the store assistant.\n",
		Now:       time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Tools: []tools.Info{
			{Name: "calculate", Description: "Evaluate arithmetic.", Required: []string{"expression"}},
			{Name: "delete_file", Description: "Delete a file.", Required: []string{"path"}, RequiresConfirmation: true},
			{Name: "current_time", Description: "Tell the time.", Optional: []string{"timezone"}},
		},
		Summary: "User asked about lamps.",
		Knowledge: []rag.Result{
			{SourceID: "faq", Title: "FAQ", Content: " Shipping takes 3 days. ", Score: 0.91234},
			{SourceID: "policy", Content: "Returns within 30 days.", Score: 0.5},
		},
	})

	assert.True(t, strings.HasPrefix(prompt, "Your name is Shopagent.\nYou are the store assistant.\nCurrent date: 2026-03-04\n"))
	assert.Contains(t, prompt, "### calculate\nEvaluate arithmetic.\nRequired parameters: expression\nOptional parameters: none\n")
	assert.Contains(t, prompt, "### current_time\nTell the time.\nRequired parameters: none\nOptional parameters: timezone\n")
	assert.Contains(t, prompt, "### delete_file\nDelete a file.\nRequired parameters: path\nOptional parameters: none\nThe user must confirm this tool before it runs.\n")
	assert.Contains(t, prompt, "## Conversation Summary\n\nUser asked about lamps.\n")
	assert.Contains(t, prompt, "[1] source: FAQ (faq), score: 0.912\nShipping takes 3 days.\n")
	assert.Contains(t, prompt, "[2] source: policy, score: 0.500\nReturns within 30 days.\n")
	assert.Less(t, strings.Index(prompt, "## Available Tools"), strings.Index(prompt, "## Conversation Summary"))
	assert.Less(t, strings.Index(prompt, "## Conversation Summary"), strings.Index(prompt, "## Knowledge"))
}

func TestBuildSystemPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{Persona: "Be brief."})
	assert.Equal(t, "Be brief.\n", prompt)
	assert.NotContains(t, prompt, "## ")
}
