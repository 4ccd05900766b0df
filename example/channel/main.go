package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/energywebfoundation/ew-link-bond"
)

func main() {
	flow, err := bond.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, records, closeRecords := bond.NewChannelLedger("fanout", 32)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fanoutWorker("ingest", records)
	}()

	_, err = flow.Run(ctx, bond.StreamOutLedger(ledger))
	closeRecords()
	<-done
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, records <-chan bond.Record) {
	for rec := range records {
		fmt.Printf("[%s] %s forwarding %s value=%d\n", name, time.Now().Format(time.RFC3339), rec.Stream, rec.Value)
	}
}
