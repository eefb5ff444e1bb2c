// Package main starts the stage service and handles termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	entrypoint "github.com/louisbranch/yesand/internal/platform/cmd"
	stagecmd "github.com/louisbranch/yesand/internal/cmd/stage"
)

func main() {
	cfg, err := stagecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceStage))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HealthCheck {
		if err := stagecmd.CheckHealth(ctx, cfg); err != nil {
			log.Fatalf("health check: %v", err)
		}
		return
	}
	if err := stagecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
