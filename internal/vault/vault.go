// Package vault seals broker secrets at rest.
//
// The key is derived once from the application secret with PBKDF2 and lives
// only in memory. Every Encrypt call draws a fresh GCM nonce, which is stored
// in front of the sealed bytes inside the returned blob.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"fyers_desk/internal/domain"

	"golang.org/x/crypto/pbkdf2"
)

const (
	blobVersion       byte = 1
	keyLen                 = 32
	DefaultIterations      = 100_000
)

// DefaultSalt is used when the configuration does not provide one.
var DefaultSalt = []byte("fyers_desk_vault_salt_v1")

var errWiped = errors.New("vault: key wiped")

var encoding = base64.URLEncoding

type options struct {
	salt       []byte
	iterations int
}

// Option customizes key derivation.
type Option func(*options)

// WithSalt overrides the PBKDF2 salt.
func WithSalt(salt []byte) Option {
	return func(o *options) {
		if len(salt) > 0 {
			o.salt = salt
		}
	}
}

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.iterations = n
		}
	}
}

// Vault encrypts and decrypts secrets with AES-256-GCM.
// Safe for concurrent use.
type Vault struct {
	mu   sync.RWMutex
	key  []byte
	aead cipher.AEAD
}

// New derives the vault key from appSecret.
func New(appSecret []byte, opts ...Option) (*Vault, error) {
	if len(appSecret) == 0 {
		return nil, errors.New("vault: application secret is empty")
	}
	o := options{salt: DefaultSalt, iterations: DefaultIterations}
	for _, opt := range opts {
		opt(&o)
	}

	key := pbkdf2.Key(appSecret, o.salt, o.iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	return &Vault{key: key, aead: aead}, nil
}

// Encrypt seals plaintext and returns a URL-safe base64 blob.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.aead == nil {
		return "", errWiped
	}

	ns := v.aead.NonceSize()
	buf := make([]byte, 1+ns, 1+ns+len(plaintext)+v.aead.Overhead())
	buf[0] = blobVersion
	if _, err := rand.Read(buf[1:]); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(buf, buf[1:1+ns], []byte(plaintext), []byte{blobVersion})
	return encoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
// Any malformed or foreign blob yields *domain.DecryptionError.
func (v *Vault) Decrypt(blob string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.aead == nil {
		return "", errWiped
	}
	if blob == "" {
		return "", &domain.DecryptionError{Reason: "empty ciphertext"}
	}

	raw, err := encoding.DecodeString(blob)
	if err != nil {
		return "", &domain.DecryptionError{Reason: "malformed encoding", Err: err}
	}
	ns := v.aead.NonceSize()
	if len(raw) < 1+ns+v.aead.Overhead() {
		return "", &domain.DecryptionError{Reason: "ciphertext too short"}
	}
	if raw[0] != blobVersion {
		return "", &domain.DecryptionError{Reason: fmt.Sprintf("unsupported version %d", raw[0])}
	}

	plain, err := v.aead.Open(nil, raw[1:1+ns], raw[1+ns:], raw[:1])
	if err != nil {
		return "", &domain.DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

// Wipe clears the key from memory. The vault is unusable afterwards.
func (v *Vault) Wipe() {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.aead = nil
}
