package door

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// codeBytes is the number of random bytes in a provisional access code.
// 16 bytes gives a 32-character hex code; unguessable within any
// realistic credential lifetime.
const codeBytes = 16

// GenerateCode creates a cryptographically random provisional access code.
func GenerateCode() string {
	b := make([]byte, codeBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewCredential issues a single-use credential for one recipient of a door.
// An empty block and apartment scopes the credential to any recipient.
func NewCredential(doorID string, r Recipient, ttl time.Duration) Credential {
	now := time.Now().UTC()
	return Credential{
		Code:      GenerateCode(),
		DoorID:    doorID,
		Block:     r.Block,
		Apartment: r.Apartment,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}
