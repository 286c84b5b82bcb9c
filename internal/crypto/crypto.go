// Package crypto seals database credentials at rest. Credentials are
// encrypted with AES-256-GCM under a key derived from the configured master
// key via HKDF-SHA256; the plaintext exists in memory only inside the pool
// manager, immediately before a pool is opened.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// kekContext domain-separates the credential key from any other key derived
// from the same master key.
const kekContext = "querygate-credentials-v1"

// GenerateMasterKey generates a 32-byte cryptographically secure random key,
// hex-encoded for storage in configuration.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// DeriveKey derives a 32-byte key from the master key using HKDF-SHA256.
func DeriveKey(masterKey []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM. Returns ciphertext and
// nonce separately.
func EncryptAESGCM(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptAESGCM decrypts AES-256-GCM ciphertext.
func DecryptAESGCM(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Sealer encrypts and decrypts credential blobs under the derived
// credential key.
type Sealer struct {
	key []byte
}

// NewSealer builds a Sealer from the hex-encoded master key.
func NewSealer(masterKeyHex string) (*Sealer, error) {
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, errors.New("master key must be 32 bytes")
	}
	key, err := DeriveKey(masterKey, kekContext)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts a plaintext credential.
func (s *Sealer) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	return EncryptAESGCM(plaintext, s.key)
}

// Open decrypts a sealed credential.
func (s *Sealer) Open(ciphertext, nonce []byte) ([]byte, error) {
	return DecryptAESGCM(ciphertext, nonce, s.key)
}
