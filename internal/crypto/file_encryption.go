package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrNotSealed is returned when data does not start with a sealed header
var ErrNotSealed = errors.New("data is not sealed")

// PasswordSealer encrypts data under a key derived from a password
// (PBES2, RFC 2898 section 6.2). The header is authenticated as additional data.
type PasswordSealer struct {
	engine *EncryptionEngine
}

// NewPasswordSealer creates a new password sealer
func NewPasswordSealer() *PasswordSealer {
	return &PasswordSealer{
		engine: NewEncryptionEngine(),
	}
}

// Seal derives a key from password and returns header || ciphertext.
// A nil params.Salt gets a fresh random salt for this call only.
func (s *PasswordSealer) Seal(password string, params *Params, plaintext []byte) ([]byte, error) {
	p := *params
	if params.Salt != nil {
		p.Salt = append([]byte(nil), params.Salt...)
	}

	keyID, err := transientKeyID()
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.DeriveKey(password, &p, keyID); err != nil {
		return nil, err
	}
	defer s.engine.RemoveKey(keyID)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header, err := NewHeader(&p, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create header: %w", err)
	}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize header: %w", err)
	}

	result, err := s.engine.Encrypt(&EncryptionRequest{
		Plaintext:      plaintext,
		Nonce:          nonce,
		AdditionalData: headerBytes,
		KeyID:          keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}

	sealed := make([]byte, 0, len(headerBytes)+len(result.Ciphertext))
	sealed = append(sealed, headerBytes...)
	sealed = append(sealed, result.Ciphertext...)
	return sealed, nil
}

// Open parses the header, rederives the key and decrypts
func (s *PasswordSealer) Open(password string, sealed []byte) ([]byte, error) {
	header, err := parseSealed(sealed)
	if err != nil {
		return nil, err
	}

	ciphertext := sealed[header.Size():]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("no ciphertext found after header")
	}

	params, err := header.Params()
	if err != nil {
		return nil, err
	}

	keyID, err := transientKeyID()
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.DeriveKey(password, params, keyID); err != nil {
		return nil, err
	}
	defer s.engine.RemoveKey(keyID)

	plaintext, err := s.engine.Decrypt(&DecryptionRequest{
		Ciphertext:     ciphertext,
		Nonce:          header.Nonce,
		AdditionalData: sealed[:header.Size()],
		Algorithm:      params.Algorithm,
		KeyID:          keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// SealedInfo contains metadata about a sealed blob
type SealedInfo struct {
	Algorithm   string
	PRF         string
	Iterations  int
	Salt        string
	Version     int
	HeaderSize  int
	ContentSize int
}

// Inspect extracts metadata from a sealed blob without the password
func (s *PasswordSealer) Inspect(sealed []byte) (*SealedInfo, error) {
	header, err := parseSealed(sealed)
	if err != nil {
		return nil, err
	}
	params, err := header.Params()
	if err != nil {
		return nil, err
	}

	return &SealedInfo{
		Algorithm:   params.Algorithm,
		PRF:         params.PRF.String(),
		Iterations:  params.Iterations,
		Salt:        hex.EncodeToString(params.Salt),
		Version:     int(header.Version),
		HeaderSize:  header.Size(),
		ContentSize: len(sealed) - header.Size(),
	}, nil
}

func parseSealed(sealed []byte) (*Header, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}

	header := &Header{}
	if err := header.UnmarshalBinary(sealed); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if err := header.Validate(); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	return header, nil
}

func transientKeyID() (string, error) {
	id := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, id); err != nil {
		return "", fmt.Errorf("failed to generate key ID: %w", err)
	}
	return "seal-" + hex.EncodeToString(id), nil
}
