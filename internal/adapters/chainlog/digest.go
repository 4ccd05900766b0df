package chainlog

import (
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// DigestPrefix is the multibase marker for base58btc.
const DigestPrefix = "z"

// Digest hashes the exact payload bytes with BLAKE3-256 and returns the
// prefixed base58 text form stored in previous_hash fields.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return DigestPrefix + base58.Encode(sum[:])
}
