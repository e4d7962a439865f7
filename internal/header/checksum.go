package header

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumPrefix tags the digest algorithm in the Checksum field.
const ChecksumPrefix = "sha256:"

// BodyChecksum digests an artifact body with the header block excluded.
// The digest is content-based and deterministic: the same body always
// yields the same checksum, so regeneration over unchanged content is a
// stable no-op apart from the timestamp.
func BodyChecksum(body []byte) string {
	sum := sha256.Sum256(body)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}
