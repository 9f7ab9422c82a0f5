package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// GenerateKey hashes the request identity (method, route, caller, client key).
// Parts are length-prefixed so ("a:b", "c") and ("a", "b:c") never collide.
func GenerateKey(parts ...string) string {
	h := sha256.New()

	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}

	return hex.EncodeToString(h.Sum(nil))
}
