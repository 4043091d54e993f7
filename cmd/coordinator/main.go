package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	coordinatorcmd "github.com/openparlor/parlor/internal/cmd/coordinator"
	"github.com/openparlor/parlor/internal/platform/config"
)

func main() {
	cfg, err := coordinatorcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[COORDINATOR] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinatorcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
