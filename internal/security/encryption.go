// Package security protects customer data stored by the rental service.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/videostore/rental-service/internal/config"
)

var (
	ErrNoKeys          = errors.New("no encryption keys configured")
	ErrMalformedCipher = errors.New("malformed encrypted value")
)

// FieldEncryptor encrypts single column values with versioned AES-256-GCM keys.
// Values are encoded as "version:base64(nonce|ciphertext)" so keys can rotate.
type FieldEncryptor struct {
	keys           map[int][]byte
	currentVersion int
}

// NewFieldEncryptor parses keys in the form "1:base64key1,2:base64key2"
func NewFieldEncryptor(cfg config.EncryptionConfig) (*FieldEncryptor, error) {
	keys, err := parseKeys(cfg.EncryptionKeysBase64)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if _, ok := keys[cfg.CurrentKeyVersion]; !ok {
		return nil, fmt.Errorf("current key version %d not found in provided keys", cfg.CurrentKeyVersion)
	}

	return &FieldEncryptor{
		keys:           keys,
		currentVersion: cfg.CurrentKeyVersion,
	}, nil
}

func parseKeys(raw string) (map[int][]byte, error) {
	keys := make(map[int][]byte)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, encoded, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid key entry %q", part)
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("invalid key version: %w", err)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid key encoding for version %d: %w", v, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid key length for version %d: want 32 bytes, got %d", v, len(key))
		}
		keys[v] = key
	}
	return keys, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with the current key. Empty input stays empty.
func (e *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := newGCM(e.keys[e.currentVersion])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return strconv.Itoa(e.currentVersion) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt with any known key version
func (e *FieldEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	version, encoded, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", ErrMalformedCipher
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return "", fmt.Errorf("invalid version in encrypted data: %w", err)
	}
	key, ok := e.keys[v]
	if !ok {
		return "", fmt.Errorf("decryption key version %d not found", v)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCipher, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrMalformedCipher
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
