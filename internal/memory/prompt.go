package memory

import (
	"fmt"
	"strings"

	"github.com/soyeahso/shopagent/internal/domain"
)

func summaryInstruction(maxChars int) string {
	return fmt.Sprintf("You maintain the running summary of a customer support conversation. "+
		"Merge the previous summary with the new messages into a single summary of at most %d characters. "+
		"Keep names, order numbers, decisions and open requests. Reply with the summary text only.", maxChars)
}

func summaryInput(prev string, msgs []domain.Message) string {
	var sb strings.Builder
	sb.WriteString("Previous summary:\n")
	if prev == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(prev)
	}
	sb.WriteString("\n\nNew messages:\n")
	for _, msg := range msgs {
		line := msg.Text()
		if line == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			line = "[called " + strings.Join(names, ", ") + "]"
		}
		if line == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, line)
	}
	return sb.String()
}
