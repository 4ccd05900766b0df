package domain

import (
	"fmt"
	"strings"
	"time"
)

// Reading is one poll of an external source (meter or emissions service).
// A reading that could not be taken is still produced, flagged with
// IsSourceDown and a zero Value, so the cycle can record the outage.
type Reading struct {
	CapturedAt      time.Time
	SourceTimestamp time.Time
	Value           float64
	Raw             string
	IsSourceDown    bool
}

// DownReading returns the flagged reading used when a source is unreachable.
func DownReading(capturedAt time.Time, raw string) Reading {
	return Reading{CapturedAt: capturedAt, Raw: raw, IsSourceDown: true}
}

// EnergyUnit names the unit a meter reports in.
type EnergyUnit string

const (
	Joule        EnergyUnit = "J"
	WattHour     EnergyUnit = "Wh"
	KiloWattHour EnergyUnit = "kWh"
	MegaWattHour EnergyUnit = "MWh"
	GigaWattHour EnergyUnit = "GWh"
)

var whFactors = map[EnergyUnit]float64{
	Joule:        1.0 / 3600,
	WattHour:     1,
	KiloWattHour: 1e3,
	MegaWattHour: 1e6,
	GigaWattHour: 1e9,
}

// ParseEnergyUnit accepts unit names case-insensitively. Empty means Wh.
func ParseEnergyUnit(s string) (EnergyUnit, error) {
	if strings.TrimSpace(s) == "" {
		return WattHour, nil
	}
	for u := range whFactors {
		if strings.EqualFold(string(u), s) {
			return u, nil
		}
	}
	return "", fmt.Errorf("unknown energy unit %q", s)
}

// ToWh converts v expressed in u into watt-hours.
func (u EnergyUnit) ToWh(v float64) (float64, error) {
	f, ok := whFactors[u]
	if !ok {
		return 0, fmt.Errorf("unknown energy unit %q", string(u))
	}
	return v * f, nil
}
