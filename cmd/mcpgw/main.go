// Package main is the entry point for the mcpgw progressive-discovery gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vikashloomba/mcp-progressive-gateway/cmd/mcpgw/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcpgw: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
