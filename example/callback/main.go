package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/energywebfoundation/ew-link-bond/pkg/bond"
)

func main() {
	flow, err := bond.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, rec bond.Record) (string, error) {
		co2 := "-"
		if rec.CO2Saved != nil {
			co2 = fmt.Sprintf("%dg", *rec.CO2Saved)
		}
		fmt.Printf("%s stream=%s value=%dWh co2=%s meter_down=%t prev=%s\n",
			time.Unix(rec.CapturedAt, 0).Format(time.RFC3339),
			rec.Stream,
			rec.Value,
			co2,
			rec.IsMeterDown,
			rec.PreviousHash,
		)
		return rec.CycleID, nil
	}

	if _, err := flow.Run(ctx, bond.StreamOutCallback("stdout", callback)); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
