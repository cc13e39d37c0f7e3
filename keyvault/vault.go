// Package keyvault holds the hot signing keys. Keys rest encrypted under
// AES-256-GCM with a key derived from the configured master secret; they
// are decrypted on demand, held in-process only and never written back to
// disk in the clear.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tos-network/gyield/core"
)

const minMasterSecretLen = 32

var (
	ErrWeakMasterSecret  = errors.New("keyvault: master secret shorter than 32 chars")
	ErrCrypto            = errors.New("keyvault: decryption failed")
	ErrMalformedCipher   = errors.New("keyvault: malformed ciphertext")
	ErrNoKeyForFamily    = errors.New("keyvault: no hot key loaded for chain family")
)

// Vault derives its AEAD key once at construction and caches decrypted hot
// keys per chain family. The cache is written during startup loading and
// read-only afterwards.
type Vault struct {
	aead cipher.AEAD

	mu    sync.RWMutex
	cache map[core.ChainFamily]string
}

// New builds a vault from the master secret (WALLET_ENCRYPTION_KEY).
func New(masterSecret string) (*Vault, error) {
	if len(masterSecret) < minMasterSecretLen {
		return nil, ErrWeakMasterSecret
	}
	key := sha256.Sum256([]byte(masterSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead, cache: make(map[core.ChainFamily]string)}, nil
}

// Encrypt seals plain into the iv:tag:ciphertext wire format.
func (v *Vault) Encrypt(plain string) (string, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nil, iv, []byte(plain), nil)
	// Seal appends the tag; split it back out for the stored format.
	tagOff := len(sealed) - 16
	ct, tag := sealed[:tagOff], sealed[tagOff:]
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(ct)), nil
}

// Decrypt opens an iv:tag:ciphertext string. Tag mismatch and malformed
// input both surface as crypto errors, never as plaintext.
func (v *Vault) Decrypt(enc string) (string, error) {
	parts := strings.Split(enc, ":")
	if len(parts) != 3 {
		return "", ErrMalformedCipher
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != v.aead.NonceSize() {
		return "", ErrMalformedCipher
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != 16 {
		return "", ErrMalformedCipher
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedCipher
	}
	plain, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrCrypto
	}
	return string(plain), nil
}

// GetSecret reads a named secret from the process environment.
func GetSecret(name string) (string, bool) {
	val, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

// LoadInto caches a decrypted hot key for a chain family.
func (v *Vault) LoadInto(family core.ChainFamily, plain string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[family] = plain
}

// HotKey returns the cached key for a chain family. Absence means the
// family runs in pending-signature mode.
func (v *Vault) HotKey(family core.ChainFamily) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.cache[family]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoKeyForFamily, family)
	}
	return key, nil
}

// HasKey reports whether a hot key is loaded for the family.
func (v *Vault) HasKey(family core.ChainFamily) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.cache[family]
	return ok
}

// ClearAll wipes the in-process key cache.
func (v *Vault) ClearAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[core.ChainFamily]string)
}
