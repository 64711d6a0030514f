// Package cipher implements the salted XOR stream cipher used to obscure
// message text at rest. The scheme is intentionally simple and carries no
// authentication: decrypting with the wrong key silently yields garbage.
// Its wire format is fixed at "<64-hex-salt>:<base64 payload>".
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const saltHexLen = 64 // 32 random bytes, hex encoded

// Ciphertext is the parsed form of an encrypted string. Representing the
// encrypted state as an explicit value (rather than inferring it from string
// shape at each call site) keeps mixed plaintext/ciphertext states visible.
type Ciphertext struct {
	Salt    string
	Payload []byte
}

// String renders the wire format.
func (c Ciphertext) String() string {
	return c.Salt + ":" + base64.StdEncoding.EncodeToString(c.Payload)
}

// Parse attempts to interpret s as ciphertext. The check is structural only:
// a plaintext string that happens to match the format is indistinguishable
// from real ciphertext.
func Parse(s string) (Ciphertext, bool) {
	if len(s) < saltHexLen+2 || s[saltHexLen] != ':' {
		return Ciphertext{}, false
	}
	salt := s[:saltHexLen]
	if _, err := hex.DecodeString(salt); err != nil {
		return Ciphertext{}, false
	}
	payload, err := base64.StdEncoding.DecodeString(s[saltHexLen+1:])
	if err != nil || len(payload) == 0 {
		return Ciphertext{}, false
	}
	return Ciphertext{Salt: salt, Payload: payload}, true
}

// IsEncrypted reports whether s matches the ciphertext format.
func IsEncrypted(s string) bool {
	_, ok := Parse(s)
	return ok
}

// Encrypt obscures text under key. Empty input passes through unchanged, and
// a string already matching the ciphertext format is returned as-is rather
// than double-encrypted.
func Encrypt(text, key string) (string, error) {
	if text == "" {
		return text, nil
	}
	if IsEncrypted(text) {
		return text, nil
	}

	saltBytes := make([]byte, saltHexLen/2)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", fmt.Errorf("failed to draw salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)

	payload := xorStream([]byte(text), subKey(key, salt))
	return Ciphertext{Salt: salt, Payload: payload}.String(), nil
}

// Decrypt reverses Encrypt using the salt embedded in the ciphertext. Input
// that does not parse as ciphertext passes through unchanged.
func Decrypt(text, key string) (string, error) {
	ct, ok := Parse(text)
	if !ok {
		return text, nil
	}
	return string(xorStream(ct.Payload, subKey(key, ct.Salt))), nil
}

// subKey derives the one-time keystream seed for a given salt.
func subKey(key, salt string) []byte {
	sum := sha256.Sum256([]byte(key + salt))
	return sum[:]
}

func xorStream(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
