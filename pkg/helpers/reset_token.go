package helpers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// resetTokenBytes is the size of the random reset token. 32 bytes gives
// 256 bits of entropy, hex-encoded to 64 characters.
const resetTokenBytes = 32

// GenerateResetToken returns a password-reset token and its digest. The
// plaintext goes to the user exactly once; only the digest is persisted.
func GenerateResetToken() (plain string, hashed string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(b)
	return plain, HashResetToken(plain), nil
}

// HashResetToken derives the stored form of a reset token.
func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
