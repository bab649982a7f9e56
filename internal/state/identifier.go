package state

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identifier scopes all circuit-breaker state to one tracked asset pair.
// It is an opaque 32-byte key, hex-encoded. Admins typically derive it
// from the pair name via HashPair, but any unique 32-byte value works.
type Identifier string

// IdentifierLen is the length of a hex-encoded identifier.
const IdentifierLen = 64

// HashPair derives an identifier from a human-readable pair name.
func HashPair(name string) Identifier {
	sum := sha256.Sum256([]byte(name))
	return Identifier(hex.EncodeToString(sum[:]))
}

// Valid reports whether id is a well-formed 32-byte hex key.
func (id Identifier) Valid() bool {
	if len(id) != IdentifierLen {
		return false
	}
	_, err := hex.DecodeString(string(id))
	return err == nil
}

func (id Identifier) String() string {
	return string(id)
}
