package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"CortexMCP/pkg/logger"
)

// version 可在构建时通过 -ldflags "-X main.version=..." 覆盖。
var version = "1.0.0"

// main 是 Cortex Agent MCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cortexmcpd 运行失败:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := newRootCommand(os.LookupEnv)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
