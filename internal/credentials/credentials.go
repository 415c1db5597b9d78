// Package credentials seals integration credentials at rest.
package credentials

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrEncrypt        = errors.New("encryption failed")
	ErrDecrypt        = errors.New("decryption failed")
)

// Vault encrypts provider credentials with XChaCha20-Poly1305. The integration id
// is bound as additional data so a ciphertext cannot be moved between rows.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a vault from a 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return &Vault{aead: aead}, nil
}

// NewVaultFromBase64 decodes the configured key.
func NewVaultFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	return NewVault(key)
}

// Seal encrypts a credential map into the encrypted_credentials column form.
func (v *Vault) Seal(integrationID string, creds map[string]string) (string, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plain)+v.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncrypt
	}

	sealed := v.aead.Seal(nonce, nonce, plain, []byte(integrationID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (v *Vault) Open(integrationID, encoded string) (map[string]string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrDecrypt
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := v.aead.Open(nil, nonce, ciphertext, []byte(integrationID))
	if err != nil {
		return nil, ErrDecrypt
	}

	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return creds, nil
}
