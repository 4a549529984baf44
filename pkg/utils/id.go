package utils

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"sync/atomic"
)

// idSeq disambiguates identifiers generated in the same process, so even a
// misbehaving entropy source cannot hand two sessions the same id.
var idSeq atomic.Uint64

// GenerateId returns a short, URL-safe random identifier, the shape the
// reference implementation uses for session and socket ids.
func GenerateId() (string, error) {
	entropy := make([]byte, 15)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}

	id := base64.RawURLEncoding.EncodeToString(entropy)
	if seq := idSeq.Add(1); seq > 1 {
		id += strconv.FormatUint(seq, 36)
	}
	return id, nil
}
