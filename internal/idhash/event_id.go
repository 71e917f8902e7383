package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"sentiment-pipeline/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(symbol|bucket_start_1m|content_hash)
// timestamp is floored to its 1m bucket so re-fetches with jittered
// publication times within the same minute map to one event.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(symbol string, timestamp int64, contentHash string) string {
	data := fmt.Sprintf("%s|%d|%s",
		symbol,
		domain.Resolution1m.BucketStart(timestamp),
		contentHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
