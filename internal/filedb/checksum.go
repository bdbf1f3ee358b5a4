package filedb

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// checksumBytes returns the hex BLAKE2b-256 digest of data.
func checksumBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
