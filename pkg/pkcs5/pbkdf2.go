// Package pkcs5 implements the PKCS #5 v2.0 password-based key derivation
// function PBKDF2 (RFC 2898, section 5.2) over a selectable HMAC PRF.
package pkcs5

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"

	"pkcs5/pkg/byteutil"
)

// maxBlocks is the largest block index representable by the 32-bit counter.
const maxBlocks = 1<<32 - 1

// randReader is the salt source; tests replace it.
var randReader io.Reader = rand.Reader

// PBKDF2 derives keys for a fixed PRF and salt. An engine may be reused
// for any number of derivations; calls on one engine are serialised.
type PBKDF2 struct {
	mu        sync.Mutex
	prf       Provider
	hLen      int
	salt      []byte
	destroyed bool
}

// New creates an engine for prf with a random salt of PRFSize bytes.
func New(prf PRF) (*PBKDF2, error) {
	p, err := prf.Provider()
	if err != nil {
		return nil, err
	}
	return NewWithProvider(p, nil)
}

// NewWithSalt creates an engine for prf using a copy of salt.
func NewWithSalt(prf PRF, salt []byte) (*PBKDF2, error) {
	p, err := prf.Provider()
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = []byte{}
	}
	return NewWithProvider(p, salt)
}

// NewWithProvider creates an engine for an arbitrary PRF. A nil salt is
// replaced by p.Size() random bytes.
func NewWithProvider(p Provider, salt []byte) (k *PBKDF2, err error) {
	hLen := p.Size()
	if hLen <= 0 {
		return nil, fmt.Errorf("%w: %s reports output size %d", ErrUnsupportedPRF, p.Name(), hLen)
	}

	var owned []byte
	defer func() {
		if k == nil {
			memguard.WipeBytes(owned)
		}
	}()

	if salt == nil {
		owned = make([]byte, hLen)
		if _, err := io.ReadFull(randReader, owned); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	} else {
		owned = make([]byte, len(salt))
		copy(owned, salt)
	}

	return &PBKDF2{
		prf:  p,
		hLen: hLen,
		salt: owned,
	}, nil
}

// PRFName returns the algorithm name of the PRF, e.g. "SHA-256/HMAC".
func (k *PBKDF2) PRFName() string {
	return k.prf.Name()
}

// PRFSize returns hLen, the PRF output size in bytes.
func (k *PBKDF2) PRFSize() int {
	return k.hLen
}

// Salt returns a copy of the salt.
func (k *PBKDF2) Salt() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := make([]byte, len(k.salt))
	copy(s, k.salt)
	return s
}

// SaltSize returns the salt length in bytes.
func (k *PBKDF2) SaltSize() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.salt)
}

// DeriveKey derives a single PRF block, i.e. a key of PRFSize bytes.
func (k *PBKDF2) DeriveKey(password string, iterations int) ([]byte, error) {
	return k.DeriveKeyLen(password, iterations, k.hLen)
}

// DeriveKeyLen derives a key of dkLen bytes from password.
func (k *PBKDF2) DeriveKeyLen(password string, iterations, dkLen int) ([]byte, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterationCount, iterations)
	}
	if dkLen < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeyLength, dkLen)
	}
	if uint64(dkLen) > maxBlocks*uint64(k.hLen) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d blocks of %d bytes", ErrDerivedKeyTooLong, dkLen, uint64(maxBlocks), k.hLen)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return nil, ErrEngineDestroyed
	}

	key := []byte(password)
	defer memguard.WipeBytes(key)

	prf, err := k.prf.Keyed(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPRFProvider, err)
	}

	dk := make([]byte, dkLen)
	if err := k.derive(prf, iterations, dk); err != nil {
		memguard.WipeBytes(dk)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"prf":        k.prf.Name(),
		"iterations": iterations,
		"dk_len":     dkLen,
		"blocks":     (dkLen + k.hLen - 1) / k.hLen,
	}).Debug("Derived key")

	return dk, nil
}

// derive fills dk with T_1 || T_2 || ... truncated to len(dk).
//
// The working buffer holds two alternating U slots, the running T and the
// block counter suffix:
//
//	[ U_a (hLen) | U_b (hLen) | T (hLen) | INT(i) (4) ]
func (k *PBKDF2) derive(prf hash.Hash, iterations int, dk []byte) error {
	hLen := k.hLen
	const slotA = 0
	slotB := hLen
	slotT := 2 * hLen
	ctr := 3 * hLen

	work := make([]byte, 3*hLen+4)
	defer memguard.WipeBytes(work)

	var blk uint32 = 1
	for pos := 0; pos < len(dk); pos += hLen {
		byteutil.StoreInt32BE(blk, work, ctr)

		// U_1 = PRF(P, S || INT(i))
		prf.Reset()
		if err := write(prf, k.salt); err != nil {
			return err
		}
		if err := write(prf, work[ctr:ctr+4]); err != nil {
			return err
		}
		if err := sum(prf, work, slotA, hLen); err != nil {
			return err
		}
		copy(work[slotT:slotT+hLen], work[slotA:slotA+hLen])

		prev, next := slotA, slotB
		for n := 2; n <= iterations; n++ {
			prf.Reset()
			if err := write(prf, work[prev:prev+hLen]); err != nil {
				return err
			}
			if err := sum(prf, work, next, hLen); err != nil {
				return err
			}

			t := work[slotT : slotT+hLen]
			u := work[next : next+hLen]
			for j := range t {
				t[j] ^= u[j]
			}
			prev, next = next, prev
		}

		copy(dk[pos:], work[slotT:slotT+hLen])
		blk++
	}

	return nil
}

func write(h hash.Hash, p []byte) error {
	if _, err := h.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrPRFProvider, err)
	}
	return nil
}

// sum writes the PRF output into work[off:off+hLen].
func sum(h hash.Hash, work []byte, off, hLen int) error {
	if out := h.Sum(work[off:off]); len(out) != hLen {
		return fmt.Errorf("%w: output of %d bytes, expected %d", ErrPRFProvider, len(out), hLen)
	}
	return nil
}

// Destroy zeroes the salt. The engine cannot derive keys afterwards.
func (k *PBKDF2) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	memguard.WipeBytes(k.salt)
	k.destroyed = true
}

// Key is a one-shot derivation with a transient engine.
func Key(password string, salt []byte, iterations, dkLen int, prf PRF) ([]byte, error) {
	k, err := NewWithSalt(prf, salt)
	if err != nil {
		return nil, err
	}
	defer k.Destroy()

	return k.DeriveKeyLen(password, iterations, dkLen)
}
