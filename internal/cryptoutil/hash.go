// Package cryptoutil holds the digest helpers shared by content, the HTTP
// headers and the OAuth bridge.
package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ShortLen is the digest prefix shown in headers and snapshot versions.
const ShortLen = 12

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short truncates a hex digest to ShortLen characters.
func Short(digest string) string {
	if len(digest) > ShortLen {
		return digest[:ShortLen]
	}
	return digest
}

// HashEqual compares digests or opaque secrets such as the OAuth state in
// constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
