package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Anti-forgery tokens are derived from a per-session secret instead of being
// stored directly: salt "." HMAC-SHA256(secret, salt). Any number of emitted
// tokens validate against the same secret.

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func issueToken(secret string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	saltHex := hex.EncodeToString(salt)
	return saltHex + "." + tokenMAC(secret, saltHex), nil
}

func verifyToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	salt, mac, found := strings.Cut(token, ".")
	if !found {
		return false
	}
	return hmac.Equal([]byte(mac), []byte(tokenMAC(secret, salt)))
}

func tokenMAC(secret, salt string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}
