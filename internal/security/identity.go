package security

import (
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrIdentityUnknown is returned when the trusted address header is absent or unparseable.
var ErrIdentityUnknown = errors.New("client identity unknown")

// ClientIdentity derives the caller's network identity from the trusted
// forwarded-for style header. Only the first entry is used: the header is
// assumed to be written by a single trusted proxy hop.
func ClientIdentity(r *http.Request, header string) (string, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return "", ErrIdentityUnknown
	}
	first, _, _ := strings.Cut(raw, ",")
	ip := net.ParseIP(strings.TrimSpace(first))
	if ip == nil {
		return "", ErrIdentityUnknown
	}
	return ip.String(), nil
}

// IdentityHasher turns identities into keyed hashes so stored reports never hold raw addresses.
type IdentityHasher struct {
	key []byte
}

// NewIdentityHasher creates a hasher. blake2b accepts keys up to 64 bytes;
// longer keys are folded with an unkeyed hash first.
func NewIdentityHasher(key string) *IdentityHasher {
	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum512(k)
		k = sum[:]
	}
	return &IdentityHasher{key: k}
}

// Hash returns the hex-encoded keyed blake2b-256 digest of identity.
func (h *IdentityHasher) Hash(identity string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// only reachable with an oversized key, which the constructor rules out
		panic(err)
	}
	mac.Write([]byte(identity))
	return hex.EncodeToString(mac.Sum(nil))
}
