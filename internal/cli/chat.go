package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/stream"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		conversationID string
		showTools      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent from the terminal",
		Long: `Send a message to the agent and stream the reply to stdout.

With no message argument, chat reads lines from stdin and keeps the
conversation going until EOF or Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			c := &chatSession{
				runner:         a.runner,
				out:            out,
				showTools:      showTools,
				conversationID: conversationID,
			}

			if len(args) > 0 {
				return c.send(ctx, strings.Join(args, " "))
			}

			fmt.Fprintln(out, "Type a message and press Enter. Ctrl-D to quit.")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := c.send(ctx, line); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&showTools, "show-tools", false, "print tool calls and results")

	return cmd
}

// chatSession prints one conversation's turns to a terminal.
type chatSession struct {
	runner         *agent.Runner
	out            io.Writer
	showTools      bool
	conversationID string
}

func (c *chatSession) send(ctx context.Context, message string) error {
	turnCtx, cancel := context.WithTimeout(ctx, c.runner.Timeout())
	defer cancel()

	res, err := c.runner.Run(turnCtx, agent.Turn{ConversationID: c.conversationID, Message: message}, stream.SinkFunc(c.print))
	if err != nil {
		if errors.Is(err, agent.ErrBusy) {
			return fmt.Errorf("conversation %s is busy; try again shortly", c.conversationID)
		}
		return err
	}
	fmt.Fprintln(c.out)

	if c.conversationID == "" {
		c.conversationID = res.ConversationID
		fmt.Fprintf(os.Stderr, "conversation: %s\n", res.ConversationID)
	}
	if res.Pending != nil {
		fmt.Fprintf(c.out, "[waiting for confirmation of %s; reply yes or no]\n", res.Pending.ToolName)
	}
	return nil
}

func (c *chatSession) print(ev stream.Event) error {
	switch ev.Type {
	case stream.TextMessageContent:
		_, err := io.WriteString(c.out, ev.Delta)
		return err
	case stream.ToolCallStart:
		if c.showTools {
			fmt.Fprintf(c.out, "\n[tool %s]", ev.ToolCallName)
		}
	case stream.ToolCallArgs:
		if c.showTools {
			fmt.Fprintf(c.out, " %s", ev.Delta)
		}
	case stream.ToolCallResult:
		if c.showTools {
			fmt.Fprintf(c.out, "\n[result] %s\n", ev.Content)
		}
	case stream.RunError:
		fmt.Fprintf(c.out, "\n[error] %s", ev.Message)
	}
	return nil
}
