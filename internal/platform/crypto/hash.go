package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalHash computes a SHA-256 digest over the fields in sorted key
// order. Two maps with the same keys and values always hash identically,
// which is what makes stored audit hashes re-verifiable.
func CanonicalHash(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		encoded, err := json.Marshal(fields[k])
		if err != nil {
			// Non-encodable values degrade to their Go string form;
			// the hash stays deterministic either way.
			encoded = []byte("\"<unencodable>\"")
		}
		h.Write(encoded)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
