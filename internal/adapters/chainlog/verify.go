package chainlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

// ErrChainBroken reports a payload whose previous_hash does not match the
// digest of its predecessor.
var ErrChainBroken = errors.New("chainlog: chain broken")

// Link is one step of a backward walk: the entry and its raw payload bytes.
type Link struct {
	Entry   domain.ChainEntry
	Payload []byte
}

// Walk visits entries from the head back to the oldest. Returning a non-nil
// error from fn stops the walk and returns that error.
func (c *FileChain) Walk(fn func(Link) error) error {
	c.mu.Lock()
	head, ok := c.head, c.hasHead
	c.mu.Unlock()
	if !ok {
		return nil
	}

	entries, err := c.readIndex(head.Seq)
	if err != nil {
		return err
	}

	cur := head
	for {
		data, err := os.ReadFile(c.payloadPath(cur.PayloadFile))
		if err != nil {
			return fmt.Errorf("chainlog read payload seq=%d: %w", cur.Seq, err)
		}
		if err := fn(Link{Entry: cur, Payload: data}); err != nil {
			return err
		}
		if cur.Previous == 0 {
			return nil
		}
		prev, ok := entries[cur.Previous]
		if !ok {
			return fmt.Errorf("%w: entry %d missing from index", ErrChainBroken, cur.Previous)
		}
		if prev.Seq >= cur.Seq {
			return fmt.Errorf("%w: entry %d points forward to %d", ErrChainBroken, cur.Seq, prev.Seq)
		}
		cur = prev
	}
}

func (c *FileChain) readIndex(upto uint64) (map[uint64]domain.ChainEntry, error) {
	f, err := os.Open(c.indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[uint64]domain.ChainEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := make(map[uint64]domain.ChainEntry)
	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			// a header cut short belongs to an append still in flight
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return nil, fmt.Errorf("chainlog index header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		l := binary.BigEndian.Uint32(hdr[8:12])
		if seq > upto {
			return out, nil
		}

		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("corrupt chain index: %w", err)
		}
		var e domain.ChainEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("corrupt chain index entry: %w", err)
		}
		out[seq] = e
	}
}

type linkedPayload struct {
	PreviousHash string `json:"previous_hash"`
}

// Verify walks the chain backward and checks that every payload's
// previous_hash equals the digest of the payload before it, and that the
// oldest one carries domain.NoHistory. It returns the number of entries.
func (c *FileChain) Verify() (int, error) {
	var (
		count    int
		expected string
		newer    uint64
	)
	err := c.Walk(func(l Link) error {
		digest := Digest(l.Payload)
		if count > 0 && digest != expected {
			return fmt.Errorf("%w: entry %d references %s, payload %s hashes to %s",
				ErrChainBroken, newer, expected, l.Entry.PayloadFile, digest)
		}

		var p linkedPayload
		if err := c.codec.Unmarshal(l.Payload, &p); err != nil {
			return fmt.Errorf("chainlog decode payload seq=%d: %w", l.Entry.Seq, err)
		}
		if l.Entry.Previous == 0 && p.PreviousHash != domain.NoHistory {
			return fmt.Errorf("%w: oldest entry %d has previous_hash %q", ErrChainBroken, l.Entry.Seq, p.PreviousHash)
		}

		expected = p.PreviousHash
		newer = l.Entry.Seq
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}
