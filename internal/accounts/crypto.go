package accounts

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// encryptedPrefix marks token values that have been encrypted at rest.
// Values without the prefix are treated as plaintext.
const encryptedPrefix = "enc:"

// hkdfInfo binds derived keys to this application.
const hkdfInfo = "antigravity-usage/accounts/v1"

// deriveKey turns a user passphrase into a 32-byte AES key via HKDF-SHA256.
func deriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("accounts: empty passphrase")
	}
	reader := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("accounts: derive key: %w", err)
	}
	return key, nil
}

// encryptToken encrypts a token with AES-256-GCM and returns
// "enc:" + base64(nonce + ciphertext).
func encryptToken(token, passphrase string) (string, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("accounts: encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("accounts: encrypt: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("accounts: encrypt: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptToken decrypts a stored token value. Plaintext values (no prefix)
// pass through unchanged so unencrypted files keep working.
func decryptToken(stored, passphrase string) (string, error) {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("accounts: decrypt: invalid base64: %w", err)
	}

	key, err := deriveKey(passphrase)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("accounts: decrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("accounts: decrypt: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("accounts: decrypt: ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("accounts: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncryptedValue reports whether a stored value carries the encrypted prefix.
func IsEncryptedValue(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}
