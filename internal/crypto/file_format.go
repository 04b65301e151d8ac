package crypto

import (
	"fmt"

	"pkcs5/pkg/byteutil"
	"pkcs5/pkg/pkcs5"
)

// Header precedes every sealed blob and carries what is needed to rederive
// the key from the password. All integers are big-endian.
//
//	magic "PBE2" | version u16 | algorithm u8 | prf u8 | iterations u32 |
//	salt length u16 | nonce length u8 | salt | nonce
type Header struct {
	Version    uint16
	Algorithm  uint8
	PRF        uint8
	Iterations uint32
	Salt       []byte
	Nonce      []byte
}

const (
	SealedMagic   = "PBE2"
	SealedVersion = 1

	// fixedHeaderSize covers everything up to the salt
	fixedHeaderSize = 4 + 2 + 1 + 1 + 4 + 2 + 1

	maxSaltSize  = 1<<16 - 1
	maxNonceSize = 1<<8 - 1

	// Algorithm IDs
	AlgoAES256GCM        = 1
	AlgoAES128GCM        = 2
	AlgoChaCha20Poly1305 = 3
)

// NewHeader creates a header for the given parameters and nonce
func NewHeader(params *Params, nonce []byte) (*Header, error) {
	algo, err := algorithmID(params.Algorithm)
	if err != nil {
		return nil, err
	}
	if !params.PRF.Valid() {
		return nil, fmt.Errorf("%w: %d", pkcs5.ErrUnsupportedPRF, int(params.PRF))
	}
	if params.Iterations < 1 || uint64(params.Iterations) > 1<<32-1 {
		return nil, fmt.Errorf("iteration count %d cannot be encoded", params.Iterations)
	}
	if len(params.Salt) > maxSaltSize {
		return nil, fmt.Errorf("salt too long: %d bytes", len(params.Salt))
	}
	if len(nonce) > maxNonceSize {
		return nil, fmt.Errorf("nonce too long: %d bytes", len(nonce))
	}

	return &Header{
		Version:    SealedVersion,
		Algorithm:  algo,
		PRF:        uint8(params.PRF),
		Iterations: uint32(params.Iterations),
		Salt:       params.Salt,
		Nonce:      nonce,
	}, nil
}

// Size returns the encoded header length
func (h *Header) Size() int {
	return fixedHeaderSize + len(h.Salt) + len(h.Nonce)
}

// MarshalBinary converts the header to binary format
func (h *Header) MarshalBinary() ([]byte, error) {
	if len(h.Salt) > maxSaltSize || len(h.Nonce) > maxNonceSize {
		return nil, fmt.Errorf("header fields too long: salt %d, nonce %d", len(h.Salt), len(h.Nonce))
	}

	buf := make([]byte, h.Size())
	copy(buf, SealedMagic)
	byteutil.StoreInt16BE(h.Version, buf, 4)
	buf[6] = h.Algorithm
	buf[7] = h.PRF
	byteutil.StoreInt32BE(h.Iterations, buf, 8)
	byteutil.StoreInt16BE(uint16(len(h.Salt)), buf, 12)
	buf[14] = byte(len(h.Nonce))

	off := fixedHeaderSize
	off += copy(buf[off:], h.Salt)
	copy(buf[off:], h.Nonce)

	return buf, nil
}

// UnmarshalBinary parses the header at the start of data. Trailing bytes
// are ignored; use Size to find where the ciphertext begins.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < fixedHeaderSize {
		return fmt.Errorf("data too short for header: %d < %d", len(data), fixedHeaderSize)
	}
	if !IsSealed(data) {
		return fmt.Errorf("invalid magic signature: %q", data[:4])
	}

	saltLen := int(byteutil.LoadInt16BE(data, 12))
	nonceLen := int(data[14])
	total := fixedHeaderSize + saltLen + nonceLen
	if len(data) < total {
		return fmt.Errorf("data too short for header: %d < %d", len(data), total)
	}

	h.Version = byteutil.LoadInt16BE(data, 4)
	h.Algorithm = data[6]
	h.PRF = data[7]
	h.Iterations = byteutil.LoadInt32BE(data, 8)

	off := fixedHeaderSize
	h.Salt = append([]byte(nil), data[off:off+saltLen]...)
	off += saltLen
	h.Nonce = append([]byte(nil), data[off:off+nonceLen]...)

	return nil
}

// Validate checks if the header is valid
func (h *Header) Validate() error {
	if h.Version != SealedVersion {
		return fmt.Errorf("unsupported version: %d", h.Version)
	}
	if _, err := h.AlgorithmName(); err != nil {
		return err
	}
	if !pkcs5.PRF(h.PRF).Valid() {
		return fmt.Errorf("%w: %d", pkcs5.ErrUnsupportedPRF, h.PRF)
	}
	if h.Iterations == 0 {
		return fmt.Errorf("%w: 0", pkcs5.ErrInvalidIterationCount)
	}
	if len(h.Nonce) != NonceSize {
		return fmt.Errorf("invalid nonce size: %d", len(h.Nonce))
	}
	return nil
}

// AlgorithmName returns the algorithm name as string
func (h *Header) AlgorithmName() (string, error) {
	switch h.Algorithm {
	case AlgoAES256GCM:
		return AlgorithmAES256GCM, nil
	case AlgoAES128GCM:
		return AlgorithmAES128GCM, nil
	case AlgoChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("unknown algorithm: %d", h.Algorithm)
	}
}

// Params reconstructs the derivation parameters recorded in the header
func (h *Header) Params() (*Params, error) {
	name, err := h.AlgorithmName()
	if err != nil {
		return nil, err
	}
	return &Params{
		PRF:        pkcs5.PRF(h.PRF),
		Iterations: int(h.Iterations),
		Salt:       h.Salt,
		Algorithm:  name,
	}, nil
}

func algorithmID(name string) (uint8, error) {
	switch name {
	case AlgorithmAES256GCM:
		return AlgoAES256GCM, nil
	case AlgorithmAES128GCM:
		return AlgoAES128GCM, nil
	case AlgorithmChaCha20Poly1305:
		return AlgoChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unsupported algorithm: %s", name)
	}
}

// IsSealed checks if data starts with the sealed magic signature
func IsSealed(data []byte) bool {
	if len(data) < len(SealedMagic) {
		return false
	}
	return string(data[:len(SealedMagic)]) == SealedMagic
}
