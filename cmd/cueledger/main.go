// Package main starts the cueledger match tracker CLI.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	trackercmd "github.com/louisbranch/cueledger/internal/cmd/tracker"
	"github.com/louisbranch/cueledger/internal/platform/config"
)

func main() {
	cfg, err := trackercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[CUELEDGER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trackercmd.Run(ctx, cfg, flag.CommandLine.Args(), os.Stdout); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}
