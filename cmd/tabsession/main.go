package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/tabsession/internal/app"
)

func main() {
	cfg, args, err := app.LoadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	application, err := app.New(cfg, os.Stdout, os.Stderr)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := application.Run(ctx, args)
	stop()

	if err := application.Close(); err != nil {
		log.Printf("failed to close application: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%v", runErr)
	}
}
