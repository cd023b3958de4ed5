package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"

	intrnl "presencehub/internal"
	"presencehub/internal/app"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(intrnl.Version)
		return
	}

	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "presencehub: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return exitRuntime, err
	}
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return exitRuntime, err
	}
	logger.Info("presence server stopped")
	return exitOK, nil
}
