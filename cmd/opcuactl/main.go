package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/opcuactl/internal/logging"
)

var version = "dev"

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRoot(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "opcuactl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
