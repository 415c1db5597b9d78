package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// IdempotencyKey derives the key for one logical outbound mutation from
// (source, externalId, sync_version). Events that have no external id yet use
// their local id in its place so distinct creates never share a key.
// The key is lowercase hex and doubles as a Google Calendar event id.
func IdempotencyKey(source, externalID, localID string, syncVersion int64) string {
	ref := externalID
	if ref == "" {
		ref = "local:" + localID
	}
	sum := sha256.Sum256([]byte(source + "|" + ref + "|" + strconv.FormatInt(syncVersion, 10)))
	return hex.EncodeToString(sum[:])
}
