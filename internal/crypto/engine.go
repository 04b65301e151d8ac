package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"pkcs5/pkg/pkcs5"
)

const (
	AlgorithmAES256GCM        = "AES-256-GCM"
	AlgorithmAES128GCM        = "AES-128-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	// NonceSize is shared by GCM and ChaCha20-Poly1305
	NonceSize = 12
)

// Params describes how a key is derived from a password and which cipher
// it is used with. A nil Salt asks DeriveKey to generate one.
type Params struct {
	PRF        pkcs5.PRF
	Iterations int
	Salt       []byte
	SaltLength int // Random salt length when Salt is nil; 0 means the PRF size
	Algorithm  string
}

// EncryptionEngine derives password-based keys and performs AEAD
// operations with them. Keys are cached by ID until removed.
type EncryptionEngine struct {
	mu       sync.RWMutex
	keyCache map[string]*EncryptionKey
}

// EncryptionKey represents a derived key with the parameters that produced it
type EncryptionKey struct {
	ID         string
	Data       []byte
	Algorithm  string
	KeySize    int
	PRF        pkcs5.PRF
	Iterations int
	Salt       []byte
}

// EncryptionRequest contains parameters for encryption
type EncryptionRequest struct {
	Plaintext      []byte
	Nonce          []byte // Generated when nil
	AdditionalData []byte
	KeyID          string
}

// EncryptionResult contains the result of an encryption operation
type EncryptionResult struct {
	Ciphertext []byte
	Nonce      []byte
	Algorithm  string
	KeyID      string
}

// DecryptionRequest contains parameters for decryption
type DecryptionRequest struct {
	Ciphertext     []byte
	Nonce          []byte
	AdditionalData []byte
	Algorithm      string
	KeyID          string
}

// KeySize returns the key size in bytes for algorithm, or 0 if unknown
func KeySize(algorithm string) int {
	switch algorithm {
	case AlgorithmAES256GCM, AlgorithmChaCha20Poly1305:
		return 32
	case AlgorithmAES128GCM:
		return 16
	default:
		return 0
	}
}

// NewEncryptionEngine creates a new encryption engine
func NewEncryptionEngine() *EncryptionEngine {
	return &EncryptionEngine{
		keyCache: make(map[string]*EncryptionKey),
	}
}

// DeriveKey derives a key from a password using PBKDF2 and caches it.
// When params.Salt is nil a fresh salt is generated and recorded in both
// params and the returned key.
func (e *EncryptionEngine) DeriveKey(password string, params *Params, keyID string) (*EncryptionKey, error) {
	keySize := KeySize(params.Algorithm)
	if keySize == 0 {
		return nil, fmt.Errorf("unsupported algorithm: %s", params.Algorithm)
	}

	kdf, err := newKDF(params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PBKDF2: %w", err)
	}
	defer kdf.Destroy()

	dk, err := kdf.DeriveKeyLen(password, params.Iterations, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	if params.Salt == nil {
		params.Salt = kdf.Salt()
	}

	key := &EncryptionKey{
		ID:         keyID,
		Data:       dk,
		Algorithm:  params.Algorithm,
		KeySize:    keySize * 8,
		PRF:        params.PRF,
		Iterations: params.Iterations,
		Salt:       append([]byte(nil), params.Salt...),
	}

	logrus.WithFields(logrus.Fields{
		"key_id":     keyID,
		"algorithm":  key.Algorithm,
		"prf":        kdf.PRFName(),
		"iterations": key.Iterations,
		"salt_size":  len(key.Salt),
	}).Debug("Derived encryption key")

	e.SetKey(key)
	return key, nil
}

func newKDF(params *Params) (*pkcs5.PBKDF2, error) {
	if params.Salt != nil {
		return pkcs5.NewWithSalt(params.PRF, params.Salt)
	}
	if params.SaltLength <= 0 {
		return pkcs5.New(params.PRF)
	}

	if !params.PRF.Valid() {
		return nil, fmt.Errorf("%w: %d", pkcs5.ErrUnsupportedPRF, int(params.PRF))
	}
	salt := make([]byte, params.SaltLength)
	defer memguard.WipeBytes(salt)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return pkcs5.NewWithSalt(params.PRF, salt)
}

// SetKey adds or updates a key in the engine's cache. A replaced key is wiped.
func (e *EncryptionEngine) SetKey(key *EncryptionKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.keyCache[key.ID]; ok && old != key {
		memguard.WipeBytes(old.Data)
	}
	e.keyCache[key.ID] = key
}

// GetKey retrieves a key from the cache
func (e *EncryptionEngine) GetKey(keyID string) (*EncryptionKey, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	key, exists := e.keyCache[keyID]
	if !exists {
		return nil, fmt.Errorf("key not found: %s", keyID)
	}
	return key, nil
}

// RemoveKey wipes and removes a key from the cache
func (e *EncryptionEngine) RemoveKey(keyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key, ok := e.keyCache[keyID]; ok {
		memguard.WipeBytes(key.Data)
		delete(e.keyCache, keyID)
	}
}

// Encrypt encrypts data using the specified key and its algorithm
func (e *EncryptionEngine) Encrypt(req *EncryptionRequest) (*EncryptionResult, error) {
	if len(req.Plaintext) == 0 {
		return nil, errors.New("cannot encrypt empty data")
	}

	key, err := e.GetKey(req.KeyID)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}

	aead, err := newAEAD(key.Algorithm, key.Data)
	if err != nil {
		return nil, err
	}

	nonce := req.Nonce
	if nonce == nil {
		nonce = make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
	} else if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: %d, expected %d", len(nonce), aead.NonceSize())
	}

	return &EncryptionResult{
		Ciphertext: aead.Seal(nil, nonce, req.Plaintext, req.AdditionalData),
		Nonce:      nonce,
		Algorithm:  key.Algorithm,
		KeyID:      key.ID,
	}, nil
}

// Decrypt decrypts data using the provided decryption request
func (e *EncryptionEngine) Decrypt(req *DecryptionRequest) ([]byte, error) {
	if len(req.Ciphertext) == 0 {
		return nil, errors.New("cannot decrypt empty ciphertext")
	}

	key, err := e.GetKey(req.KeyID)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	if key.Algorithm != req.Algorithm {
		return nil, fmt.Errorf("algorithm mismatch: key has %s, request has %s", key.Algorithm, req.Algorithm)
	}

	aead, err := newAEAD(key.Algorithm, key.Data)
	if err != nil {
		return nil, err
	}
	if len(req.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: %d, expected %d", len(req.Nonce), aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, req.Nonce, req.Ciphertext, req.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// newAEAD creates the AEAD for algorithm keyed with key
func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmAES256GCM, AlgorithmAES128GCM:
		if len(key) != KeySize(algorithm) {
			return nil, fmt.Errorf("invalid key size for %s: %d", algorithm, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM mode: %w", err)
		}
		return gcm, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}

// ClearCache wipes and clears all cached keys
func (e *EncryptionEngine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, key := range e.keyCache {
		memguard.WipeBytes(key.Data)
	}
	e.keyCache = make(map[string]*EncryptionKey)
}

// GetCachedKeyCount returns the number of cached keys
func (e *EncryptionEngine) GetCachedKeyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.keyCache)
}

// ListCachedKeys returns the sorted IDs of cached keys
func (e *EncryptionEngine) ListCachedKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]string, 0, len(e.keyCache))
	for id := range e.keyCache {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
