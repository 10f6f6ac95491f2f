// Package cryptobox encrypts conversation text at rest. Each user gets a
// dedicated AES-256 key derived from one master secret, so a leaked per-user
// key never exposes another user's transcripts.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// keyInfo is the fixed HKDF info label. Changing it invalidates every
	// stored envelope.
	keyInfo = "fluxhaus-conversation-encryption"

	ivSize  = 16
	tagSize = 16
	keySize = 32

	envelopeSeparator = ":"
)

// ErrMalformedEnvelope indicates the stored string does not have the
// iv:tag:ciphertext shape. It is a format problem, not a crypto failure.
var ErrMalformedEnvelope = errors.New("malformed encrypted envelope")

// ErrDecryptFailed indicates authentication or decryption failure. No detail
// is attached: wrong user, tampering and wrong master key are deliberately
// indistinguishable.
var ErrDecryptFailed = errors.New("decryption failed")

// Box derives per-user keys from a single master secret and performs
// authenticated encryption of message text. It is stateless and safe for
// concurrent use.
type Box struct {
	master []byte
}

// New creates a Box from a hex-encoded 32-byte master key.
func New(masterHex string) (*Box, error) {
	masterHex = strings.TrimSpace(masterHex)
	if len(masterHex) != keySize*2 {
		return nil, fmt.Errorf("CONVERSATION_ENCRYPTION_KEY must be %d hex characters, got %d", keySize*2, len(masterHex))
	}
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("CONVERSATION_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return &Box{master: master}, nil
}

// deriveKey returns the 32-byte key for one owner subject. Derivation is
// deterministic: the same (master, ownerSub) pair always yields the same key.
func (b *Box) deriveKey(ownerSub string) ([]byte, error) {
	r := hkdf.New(sha256.New, b.master, []byte(ownerSub), []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func (b *Box) gcm(ownerSub string) (cipher.AEAD, error) {
	key, err := b.deriveKey(ownerSub)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// Encrypt seals plaintext under the owner's derived key and returns the
// envelope string iv_hex:authTag_hex:ciphertext_hex.
func (b *Box) Encrypt(plaintext, ownerSub string) (string, error) {
	aead, err := b.gcm(ownerSub)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; the envelope stores them as
	// separate fields.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, envelopeSeparator), nil
}

// Decrypt opens an envelope produced by Encrypt for the same owner. It fails
// closed: on any authentication failure no plaintext is returned.
func (b *Box) Decrypt(envelope, ownerSub string) (string, error) {
	parts := strings.Split(envelope, envelopeSeparator)
	if len(parts) != 3 {
		return "", ErrMalformedEnvelope
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedEnvelope
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	aead, err := b.gcm(ownerSub)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
