package cipher

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := "a4b8c15d2e9f16a23b42c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9"

	cases := []string{
		"hello",
		"¿Dónde está la biblioteca?",
		"こんにちは、元気ですか？",
		"🙂 emoji and\nnewlines\tand tabs",
		strings.Repeat("long input ", 500),
		"a",
	}
	for _, plain := range cases {
		encrypted, err := Encrypt(plain, key)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plain, err)
		}
		if encrypted == plain {
			t.Fatalf("Encrypt(%q) returned plaintext", plain)
		}
		if !IsEncrypted(encrypted) {
			t.Fatalf("ciphertext %q does not match format", encrypted)
		}
		decrypted, err := Decrypt(encrypted, key)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plain {
			t.Fatalf("round trip mismatch: got %q want %q", decrypted, plain)
		}
	}
}

func TestEncryptEmptyPassesThrough(t *testing.T) {
	encrypted, err := Encrypt("", "key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if encrypted != "" {
		t.Fatalf("empty string should pass through, got %q", encrypted)
	}
}

func TestEncryptIdempotentOnCiphertextFormat(t *testing.T) {
	encrypted, err := Encrypt("some text", "key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	again, err := Encrypt(encrypted, "key")
	if err != nil {
		t.Fatalf("re-Encrypt failed: %v", err)
	}
	if again != encrypted {
		t.Fatalf("ciphertext was re-encrypted: %q vs %q", again, encrypted)
	}
}

func TestDecryptPlaintextPassesThrough(t *testing.T) {
	for _, s := range []string{"", "plain text", "not:ciphertext", "deadbeef:short"} {
		got, err := Decrypt(s, "key")
		if err != nil {
			t.Fatalf("Decrypt(%q) failed: %v", s, err)
		}
		if got != s {
			t.Fatalf("non-ciphertext should pass through: got %q want %q", got, s)
		}
	}
}

func TestFreshSaltPerEncryption(t *testing.T) {
	a, _ := Encrypt("same input", "key")
	b, _ := Encrypt("same input", "key")
	if a == b {
		t.Fatal("two encryptions produced identical output; salt is not fresh")
	}
}

func TestDecryptWithWrongKeyYieldsGarbageNotError(t *testing.T) {
	encrypted, _ := Encrypt("secret message", "right-key")
	got, err := Decrypt(encrypted, "wrong-key")
	if err != nil {
		t.Fatalf("wrong-key decrypt must not error: %v", err)
	}
	if got == "secret message" {
		t.Fatal("wrong key recovered the plaintext")
	}
}

func TestParseStructuralOnly(t *testing.T) {
	// 64 hex chars, a colon, valid base64: matches the shape regardless of
	// whether it was ever produced by Encrypt.
	fake := strings.Repeat("ab", 32) + ":aGVsbG8="
	if !IsEncrypted(fake) {
		t.Fatal("well-shaped string should read as encrypted")
	}
	if ct, ok := Parse(fake); !ok || ct.Salt != strings.Repeat("ab", 32) {
		t.Fatalf("unexpected parse result: %+v ok=%v", ct, ok)
	}

	for _, bad := range []string{
		"",
		"no-colon-here",
		strings.Repeat("zz", 32) + ":aGVsbG8=", // not hex
		strings.Repeat("ab", 32) + ":",         // empty payload
		strings.Repeat("ab", 32) + ":!!!",      // not base64
	} {
		if IsEncrypted(bad) {
			t.Fatalf("%q should not read as encrypted", bad)
		}
	}
}
