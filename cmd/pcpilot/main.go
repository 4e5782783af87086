package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/doeshing/pcpilot/internal/infrastructure/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.Options{Verbose: isVerbose()})
	stop()
	os.Exit(code)
}

func isVerbose() bool {
	return strings.EqualFold(os.Getenv("PCPILOT_DEBUG"), "1") || strings.EqualFold(os.Getenv("PCPILOT_DEBUG"), "true")
}
