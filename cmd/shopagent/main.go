package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/shopagent/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Restart on binary rebuilds during development. Off by default so a
	// stdio MCP session is never cut short.
	if os.Getenv("SHOPAGENT_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
