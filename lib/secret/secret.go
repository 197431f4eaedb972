// Package secret protects stored portal credentials at rest. Values
// are sealed with AES-GCM under a key derived from a user passphrase,
// and wrapped in a versioned envelope so that legacy plaintext account
// files keep loading unchanged.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const envelopePrefix = "enc:v1:"

// DeriveKey stretches a passphrase into a 32-byte AES key. The salt
// only needs to be stable per account file, not secret.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func IsProtected(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

func Protect(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unprotect reverses Protect. A value without the envelope prefix is
// returned as-is: account files written before encryption was added
// store credentials in the clear.
func Unprotect(key []byte, value string) (string, error) {
	if !IsProtected(value) {
		return value, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("malformed secret envelope: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < aesgcm.NonceSize() {
		return "", fmt.Errorf("malformed secret envelope: truncated")
	}

	nonce := sealed[:aesgcm.NonceSize()]
	plaintext, err := aesgcm.Open(nil, nonce, sealed[aesgcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
