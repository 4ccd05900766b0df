package bond

import (
	"errors"
	"fmt"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/chainlog"
)

// ErrChainBroken is returned by VerifyChain when a payload no longer matches
// the previous_hash stored in its successor.
var ErrChainBroken = chainlog.ErrChainBroken

// ChainHead describes the newest entry of a stream's chain.
type ChainHead struct {
	Stream      string
	Entries     uint64
	LastHash    string
	PayloadFile string
	AppendedAt  time.Time
}

// openChain opens a stream read-only so inspection never races a running
// writer's crash repair.
func openChain(dir, stream, codecName string) (*chainlog.FileChain, error) {
	codec, err := chainlog.CodecByName(codecName)
	if err != nil {
		return nil, err
	}
	return chainlog.OpenReadOnly(dir, stream, chainlog.WithCodec(codec))
}

// VerifyChain walks a stream's chain from the head and checks every link.
// It returns the number of verified entries.
func VerifyChain(dir, stream, codec string) (int, error) {
	c, err := openChain(dir, stream, codec)
	if err != nil {
		return 0, err
	}
	return c.Verify()
}

// ReadChainHead returns the newest entry of a stream's chain. An empty chain
// yields Entries == 0 and LastHash == NoHistory.
func ReadChainHead(dir, stream, codec string) (ChainHead, error) {
	c, err := openChain(dir, stream, codec)
	if err != nil {
		return ChainHead{}, err
	}
	hash, err := c.LastHash()
	if err != nil {
		return ChainHead{}, err
	}
	head := ChainHead{Stream: stream, LastHash: hash}
	if entry, ok := c.Head(); ok {
		head.Entries = entry.Seq
		head.PayloadFile = entry.PayloadFile
		head.AppendedAt = entry.Timestamp
	}
	return head, nil
}

// ReadChain decodes up to limit records, newest first. A limit <= 0 reads
// the whole chain.
func ReadChain(dir, stream, codec string, limit int) ([]Record, error) {
	c, err := openChain(dir, stream, codec)
	if err != nil {
		return nil, err
	}
	var out []Record
	err = c.Walk(func(l chainlog.Link) error {
		var rec Record
		if err := c.Codec().Unmarshal(l.Payload, &rec); err != nil {
			return fmt.Errorf("decode entry %d: %w", l.Entry.Seq, err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return out, nil
}

var errStopWalk = errors.New("stop walk")
