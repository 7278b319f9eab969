// Package idhash derives deterministic record IDs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeTransactionID computes a deterministic transaction log ID using SHA256.
// Formula: SHA256(wallet|signature|symbol|created_at_unix_nanos)
// Returns hex-encoded hash (64 characters).
//
// Failed swaps have no signature; the timestamp keeps their IDs apart.
func ComputeTransactionID(
	wallet string,
	signature string,
	symbol string,
	createdAt time.Time,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		wallet,
		signature,
		symbol,
		createdAt.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
