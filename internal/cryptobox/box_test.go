package cryptobox_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/cryptobox"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestBox(t *testing.T) *cryptobox.Box {
	t.Helper()
	box, err := cryptobox.New(testMasterKey)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return box
}

func TestNew_RejectsBadMasterKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too short", "abcdef"},
		{"too long", testMasterKey + "00"},
		{"not hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cryptobox.New(tt.key); err == nil {
				t.Errorf("New(%q) expected error, got nil", tt.key)
			}
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	plaintexts := []string{
		"lock the car",
		"",
		"árvíztűrő tükörfúrógép",
		strings.Repeat("long message ", 500),
	}

	for _, plaintext := range plaintexts {
		envelope, err := box.Encrypt(plaintext, "user-123")
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}

		parts := strings.Split(envelope, ":")
		if len(parts) != 3 {
			t.Fatalf("envelope has %d fields, want 3: %q", len(parts), envelope)
		}
		if len(parts[0]) != 32 {
			t.Errorf("iv field is %d hex chars, want 32", len(parts[0]))
		}
		if len(parts[1]) != 32 {
			t.Errorf("tag field is %d hex chars, want 32", len(parts[1]))
		}

		got, err := box.Decrypt(envelope, "user-123")
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestDecrypt_WrongOwnerFails(t *testing.T) {
	box := newTestBox(t)

	envelope, err := box.Encrypt("private message", "alice-sub")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := box.Decrypt(envelope, "bob-sub"); !errors.Is(err, cryptobox.ErrDecryptFailed) {
		t.Errorf("Decrypt() with wrong owner error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecrypt_TamperedEnvelopeFails(t *testing.T) {
	box := newTestBox(t)

	envelope, err := box.Encrypt("lock the car", "user-123")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip one hex character in each field in turn.
	parts := strings.Split(envelope, ":")
	for i, field := range []string{"iv", "tag", "ciphertext"} {
		tampered := make([]string, 3)
		copy(tampered, parts)
		tampered[i] = flipHexChar(tampered[i])

		_, err := box.Decrypt(strings.Join(tampered, ":"), "user-123")
		if !errors.Is(err, cryptobox.ErrDecryptFailed) {
			t.Errorf("Decrypt() with tampered %s error = %v, want ErrDecryptFailed", field, err)
		}
	}
}

func TestDecrypt_MalformedEnvelope(t *testing.T) {
	box := newTestBox(t)

	valid, err := box.Encrypt("x", "user-123")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	parts := strings.Split(valid, ":")

	tests := []struct {
		name     string
		envelope string
	}{
		{"empty", ""},
		{"no separators", "deadbeef"},
		{"two fields", parts[0] + ":" + parts[1]},
		{"four fields", valid + ":deadbeef"},
		{"iv not hex", "zz" + parts[0][2:] + ":" + parts[1] + ":" + parts[2]},
		{"iv too short", "aabb:" + parts[1] + ":" + parts[2]},
		{"tag too short", parts[0] + ":aabb:" + parts[2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := box.Decrypt(tt.envelope, "user-123")
			if !errors.Is(err, cryptobox.ErrMalformedEnvelope) {
				t.Errorf("Decrypt(%q) error = %v, want ErrMalformedEnvelope", tt.envelope, err)
			}
		})
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	box := newTestBox(t)

	first, err := box.Encrypt("same text", "user-123")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := box.Encrypt("same text", "user-123")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if first == second {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

// flipHexChar changes the first hex character of s to a different valid hex
// character.
func flipHexChar(s string) string {
	replacement := byte('0')
	if s[0] == '0' {
		replacement = '1'
	}
	return string(replacement) + s[1:]
}
