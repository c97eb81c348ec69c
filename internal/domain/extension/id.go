package extension

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// IDLength is the length of every extension id.
const IDLength = 32

// ValidID reports whether id is a well-formed extension id:
// exactly 32 characters drawn from 'a' through 'p'.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if c < 'a' || c > 'p' {
			return false
		}
	}
	return true
}

// NormalizeID lowercases an id for comparison. Ids are case-insensitive
// on disk and in preference files.
func NormalizeID(id string) string {
	return strings.ToLower(id)
}

// IDFromKey derives an extension id from raw public key bytes: the first
// 16 bytes of the SHA-256 digest, hex encoded, with each hex digit shifted
// into the 'a'..'p' alphabet so ids never look like numbers.
func IDFromKey(key []byte) string {
	digest := sha256.Sum256(key)
	return idAlphabet(hex.EncodeToString(digest[:16]))
}

// IDFromKeyString derives an id from a base64-encoded manifest key.
func IDFromKeyString(encoded string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding manifest key: %w", err)
	}
	return IDFromKey(key), nil
}

// IDFromPath derives a stable id for an unpacked extension from its
// absolute install path. The same directory always yields the same id.
func IDFromPath(path string) string {
	return IDFromKey([]byte(path))
}

// idAlphabet maps a hex string onto 'a'..'p'.
func idAlphabet(hexStr string) string {
	var b strings.Builder
	b.Grow(len(hexStr))
	for _, c := range hexStr {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune('a' + (c - '0'))
		case c >= 'a' && c <= 'f':
			b.WriteRune('a' + (c - 'a' + 10))
		case c >= 'A' && c <= 'F':
			b.WriteRune('a' + (c - 'A' + 10))
		default:
			b.WriteRune('a')
		}
	}
	return b.String()
}
