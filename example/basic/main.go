package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/energywebfoundation/ew-link-bond"
)

func main() {
	flow, err := bond.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := flow.Run(ctx)
	if err != nil {
		log.Fatalf("runtime exited: %v", err)
	}
	for _, t := range report.Tasks {
		log.Printf("stream %s stopped after %d cycles", t.Stream, t.Cycles)
	}
}
