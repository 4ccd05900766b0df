package domain

import "time"

// NoHistory is the previous-hash value of the first record of a stream.
const NoHistory = "0x0"

// Record is the ledger-ready unit produced by one pipeline cycle. The same
// value is serialized into the local chain and submitted to the ledger.
type Record struct {
	Stream          string `json:"stream"`
	CycleID         string `json:"cycle_id"`
	Value           int64  `json:"value"`
	PreviousHash    string `json:"previous_hash"`
	IsMeterDown     bool   `json:"is_meter_down"`
	CO2Saved        *int64 `json:"co2_saved,omitempty"`
	IsCO2Down       bool   `json:"is_co2_down,omitempty"`
	CapturedAt      int64  `json:"captured_at"`
	SourceTimestamp int64  `json:"source_timestamp,omitempty"`
	Raw             string `json:"raw,omitempty"`
}

// ChainEntry is the persisted link for one appended payload. Previous is the
// sequence number of the next-older entry; zero marks the oldest one.
type ChainEntry struct {
	Seq         uint64    `json:"seq"`
	PayloadFile string    `json:"payload_file"`
	Timestamp   time.Time `json:"timestamp"`
	Previous    uint64    `json:"previous"`
}

// Receipt is what a ledger returns for a single submission attempt.
type Receipt struct {
	Confirmed      bool
	BlockReference string
}

// Confirmation is the outcome of a whole attempt sequence against the ledger.
type Confirmation struct {
	Succeeded      bool
	BlockReference string
	Attempts       int
}
