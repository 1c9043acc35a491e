package files

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest is a deterministic fingerprint of the map's sorted (path, content)
// pairs. Each field is length-prefixed so boundaries cannot shift.
func Digest(m FileMap) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, p := range m.Paths() {
		write(p)
		write(m[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}
