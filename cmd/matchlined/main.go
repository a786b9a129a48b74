package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"matchline/internal/engine"
	"matchline/internal/net"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	book := engine.New()
	srv := net.New("0.0.0.0", net.DefaultPort, book)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "matchlined: fatal:", err)
		os.Exit(1)
	}
}
