package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks values produced by Seal so Open can tell them apart from
// plaintext written before sealing was turned on.
const sealedPrefix = "v1."

var (
	ErrNoKeyMaterial = errors.New("cryptox: no key material")
	ErrNotSealed     = errors.New("cryptox: value is not sealed")
	ErrOpen          = errors.New("cryptox: open failed")
)

// Sealer encrypts values before they are persisted and decrypts them on the
// way back out.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AEADSealer seals with XChaCha20-Poly1305. The output format is
// "v1." + base64url([24-byte nonce][ciphertext][16-byte tag]).
type AEADSealer struct {
	key [chacha20poly1305.KeySize]byte
}

// NewSealer derives a 32-byte key from keyMaterial with HKDF-SHA256. info
// scopes the key so the same material can seal unrelated stores.
func NewSealer(keyMaterial []byte, info string) (*AEADSealer, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrNoKeyMaterial
	}

	s := &AEADSealer{}
	r := hkdf.New(sha256.New, keyMaterial, nil, []byte(info))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return s, nil
}

// NewSealerFromFile loads key material from path, or from the environment
// variable envKey when path is empty.
func NewSealerFromFile(path, envKey, info string) (*AEADSealer, error) {
	var material []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		material = []byte(strings.TrimSpace(string(data)))
	} else if v := os.Getenv(envKey); v != "" {
		material = []byte(v)
	}
	return NewSealer(material, info)
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *AEADSealer) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *AEADSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrNotSealed
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}

	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrOpen)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return string(plaintext), nil
}
