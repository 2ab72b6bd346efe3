// Package main is the entry point for syncctl.
package main

import (
	"context"
	"fmt"
	"os"

	"rollcall/internal/cli"
	"rollcall/pkg/logger"
)

func main() {
	ctx := context.Background()
	if log, err := logger.New(logger.Config{
		Level:       os.Getenv("SYNC_LOG_LEVEL"),
		OutputPaths: []string{"stderr"},
	}); err == nil {
		ctx = logger.WithLogger(ctx, log)
	}

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
