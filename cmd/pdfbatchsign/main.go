package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/digitorus/pdfbatchsign/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli.Main(ctx)
}
