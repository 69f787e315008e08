package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/config"
)

// DefaultCommandTimeout bounds a hook command without an explicit timeout.
const DefaultCommandTimeout = 10 * time.Second

// CommandHandler returns a handler that runs entry.Command through the
// shell with the JSON-encoded payload on stdin. The event name is also
// exported as SHOPAGENT_HOOK_EVENT.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := DefaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}

	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := shellCommand(ctx, entry.Command)
		cmd.Stdin = bytes.NewReader(input)
		cmd.WaitDelay = time.Second
		cmd.Env = append(cmd.Environ(), "SHOPAGENT_HOOK_EVENT="+p.Event)

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("hook %q timed out after %s", entry.Command, timeout)
			}
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("hook %q: %w: %s", entry.Command, err, msg)
			}
			return fmt.Errorf("hook %q: %w", entry.Command, err)
		}
		return nil
	}
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// Configure registers the command hooks from the config file and returns
// how many were added.
func Configure(m *Manager, cfg config.HooksConfig) int {
	sections := []struct {
		event   string
		entries []config.HookEntry
	}{
		{EventTurnStarted, cfg.TurnStarted},
		{EventTurnFinished, cfg.TurnFinished},
		{EventToolExecuted, cfg.ToolExecuted},
		{EventGatewayStart, cfg.GatewayStart},
		{EventGatewayStop, cfg.GatewayStop},
	}

	n := 0
	for _, sec := range sections {
		for i, entry := range sec.entries {
			if strings.TrimSpace(entry.Command) == "" {
				continue
			}
			m.On(sec.event, fmt.Sprintf("config:%s:%d", sec.event, i), CommandHandler(entry))
			n++
		}
	}
	return n
}
