package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// InputHash digests an event's on-chain order key into the global
// deduplication key. The digest is the lowercase hex MD5 of
// "<blockNumber>-<txIndex>-<logIndex>" so independent rebuilds produce
// identical hashes.
func InputHash(blockNumber uint64, txIndex, logIndex uint32) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d-%d-%d", blockNumber, txIndex, logIndex)))
	return hex.EncodeToString(sum[:])
}
