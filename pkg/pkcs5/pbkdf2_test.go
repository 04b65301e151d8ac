package pkcs5

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/jzelinskie/whirlpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestTruPaxRIPEMD160Vector(t *testing.T) {
	k, err := NewWithSalt(HMACRIPEMD160, []byte{0x12, 0x34, 0x56, 0x78})
	require.NoError(t, err)
	defer k.Destroy()

	dk, err := k.DeriveKeyLen("password", 5, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7a, 0x3d, 0x7c, 0x03}, dk)
	assert.Equal(t, "RIPEMD160/HMAC", k.PRFName())
	assert.Equal(t, 20, k.PRFSize())
}

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		name       string
		prf        PRF
		password   string
		salt       string
		iterations int
		want       string
	}{
		{
			name:       "sha256 c=1",
			prf:        HMACSHA256,
			password:   "password",
			salt:       "salt",
			iterations: 1,
			want:       "120fb6cffcf8b32c43e7225256c4f837a86548c92ccc35480805987cb70be17b",
		},
		{
			name:       "sha256 c=2",
			prf:        HMACSHA256,
			password:   "password",
			salt:       "salt",
			iterations: 2,
			want:       "ae4d0c95af6b46d32d0adff928f06dd02a303f8ef3c251dfd6e2d85a95474c43",
		},
		{
			name:       "sha256 c=4096",
			prf:        HMACSHA256,
			password:   "password",
			salt:       "salt",
			iterations: 4096,
			want:       "c5e478d59288c841aa530db6845c4c8d962893a001ce4e11a4963873aa98134a",
		},
		{
			// RFC 7914 section 11, two blocks
			name:       "sha256 rfc7914",
			prf:        HMACSHA256,
			password:   "passwd",
			salt:       "salt",
			iterations: 1,
			want: "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc" +
				"49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783",
		},
		{
			name:       "sha512 c=1",
			prf:        HMACSHA512,
			password:   "password",
			salt:       "salt",
			iterations: 1,
			want: "867f70cf1ade02cff3752599a3a53dc4af34c7a669815ae5d513554e1c8cf252" +
				"c02d470a285a0501bad999bfe943c08f050235d7d68b1da55e63f73b60a57fce",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := mustHex(t, tc.want)
			dk, err := Key(tc.password, []byte(tc.salt), tc.iterations, len(want), tc.prf)
			require.NoError(t, err)
			assert.Equal(t, want, dk)
		})
	}
}

func TestMatchesReferenceImplementation(t *testing.T) {
	hashes := map[PRF]func() hash.Hash{
		HMACSHA256:    sha256.New,
		HMACSHA512:    sha512.New,
		HMACRIPEMD160: ripemd160.New,
		HMACWhirlpool: whirlpool.New,
	}
	salt := []byte("NaCl-and-pepper")

	for prf, h := range hashes {
		for _, dkLen := range []int{1, 19, 20, 21, 32, 64, 65, 150} {
			for _, iterations := range []int{1, 3, 17} {
				want := pbkdf2.Key([]byte("pässwörd"), salt, iterations, dkLen, h)
				got, err := Key("pässwörd", salt, iterations, dkLen, prf)
				require.NoError(t, err)
				assert.Equal(t, want, got, "%s dkLen=%d iterations=%d", prf, dkLen, iterations)
			}
		}
	}
}

func TestNewGeneratesSaltOfPRFSize(t *testing.T) {
	tests := []struct {
		prf  PRF
		size int
		name string
	}{
		{HMACSHA256, 32, "SHA-256/HMAC"},
		{HMACSHA512, 64, "SHA-512/HMAC"},
		{HMACRIPEMD160, 20, "RIPEMD160/HMAC"},
		{HMACWhirlpool, 64, "Whirlpool/HMAC"},
	}
	for _, tc := range tests {
		k, err := New(tc.prf)
		require.NoError(t, err)

		assert.Equal(t, tc.size, k.PRFSize())
		assert.Equal(t, tc.size, k.SaltSize())
		assert.Len(t, k.Salt(), tc.size)
		assert.Equal(t, tc.name, k.PRFName())
		k.Destroy()
	}

	a, err := New(HMACSHA256)
	require.NoError(t, err)
	b, err := New(HMACSHA256)
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt(), b.Salt())
}

type countingReader struct {
	n int
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.n += len(p)
	for i := range p {
		p[i] = 0xaa
	}
	return len(p), nil
}

func TestUnsupportedPRFBeforeSaltGeneration(t *testing.T) {
	r := &countingReader{}
	orig := randReader
	randReader = r
	defer func() { randReader = orig }()

	k, err := New(PRF(42))
	assert.Nil(t, k)
	assert.ErrorIs(t, err, ErrUnsupportedPRF)
	assert.Zero(t, r.n)

	_, err = NewWithSalt(PRF(0), []byte("salt"))
	assert.ErrorIs(t, err, ErrUnsupportedPRF)

	k, err = New(HMACSHA512)
	require.NoError(t, err)
	assert.Equal(t, 64, r.n)
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 64), k.Salt())
}

func TestSaltGenerationFailure(t *testing.T) {
	orig := randReader
	randReader = io.LimitReader(&countingReader{}, 3)
	defer func() { randReader = orig }()

	k, err := New(HMACSHA256)
	assert.Nil(t, k)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSaltIsCopied(t *testing.T) {
	salt := []byte{1, 2, 3}
	k, err := NewWithSalt(HMACSHA256, salt)
	require.NoError(t, err)

	salt[0] = 9
	got := k.Salt()
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, k.Salt())

	k.Destroy()
	assert.Equal(t, []byte{9, 2, 3}, salt)
}

func TestEmptySaltAccepted(t *testing.T) {
	k, err := NewWithSalt(HMACSHA256, nil)
	require.NoError(t, err)
	assert.Zero(t, k.SaltSize())

	dk, err := k.DeriveKey("password", 2)
	require.NoError(t, err)
	assert.Equal(t, pbkdf2.Key([]byte("password"), nil, 2, 32, sha256.New), dk)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	k, err := New(HMACWhirlpool)
	require.NoError(t, err)
	defer k.Destroy()

	a, err := k.DeriveKeyLen("correct horse", 10, 100)
	require.NoError(t, err)
	b, err := k.DeriveKeyLen("correct horse", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDefaultLengthIsOneBlock(t *testing.T) {
	for _, prf := range []PRF{HMACSHA256, HMACSHA512, HMACRIPEMD160, HMACWhirlpool} {
		k, err := NewWithSalt(prf, []byte("salt"))
		require.NoError(t, err)

		a, err := k.DeriveKey("password", 3)
		require.NoError(t, err)
		b, err := k.DeriveKeyLen("password", 3, k.PRFSize())
		require.NoError(t, err)

		assert.Len(t, a, k.PRFSize())
		assert.Equal(t, b, a)
	}
}

func TestTruncationConsistency(t *testing.T) {
	k, err := NewWithSalt(HMACRIPEMD160, []byte("salt"))
	require.NoError(t, err)
	hLen := k.PRFSize()

	full, err := k.DeriveKeyLen("password", 7, 4*hLen)
	require.NoError(t, err)

	for dkLen := 1; dkLen <= 4*hLen; dkLen++ {
		dk, err := k.DeriveKeyLen("password", 7, dkLen)
		require.NoError(t, err)
		assert.Equal(t, full[:dkLen], dk, "dkLen=%d", dkLen)
	}
}

func TestBlockBoundary(t *testing.T) {
	k, err := NewWithSalt(HMACSHA256, []byte("boundary"))
	require.NoError(t, err)
	hLen := k.PRFSize()

	one, err := k.DeriveKeyLen("password", 5, hLen)
	require.NoError(t, err)
	two, err := k.DeriveKeyLen("password", 5, hLen+1)
	require.NoError(t, err)

	require.Len(t, two, hLen+1)
	assert.Equal(t, one, two[:hLen])

	// The extra byte is the first byte of block 2, which is not block 1's.
	second, err := k.DeriveKeyLen("password", 5, 2*hLen)
	require.NoError(t, err)
	assert.Equal(t, second[hLen], two[hLen])
	assert.NotEqual(t, second[:hLen], second[hLen:])
}

func TestInputSensitivity(t *testing.T) {
	base, err := Key("password", []byte("salt"), 4, 32, HMACSHA256)
	require.NoError(t, err)

	variants := map[string]func() ([]byte, error){
		"password":   func() ([]byte, error) { return Key("passwore", []byte("salt"), 4, 32, HMACSHA256) },
		"salt":       func() ([]byte, error) { return Key("password", []byte("salu"), 4, 32, HMACSHA256) },
		"iterations": func() ([]byte, error) { return Key("password", []byte("salt"), 5, 32, HMACSHA256) },
		"prf":        func() ([]byte, error) { return Key("password", []byte("salt"), 4, 32, HMACSHA512) },
	}
	for name, derive := range variants {
		dk, err := derive()
		require.NoError(t, err)
		assert.NotEqual(t, base, dk, "changing %s did not change the key", name)
	}
}

func TestInvalidIterationCount(t *testing.T) {
	k, err := NewWithSalt(HMACSHA256, []byte("salt"))
	require.NoError(t, err)

	for _, iterations := range []int{0, -1, -4096} {
		dk, err := k.DeriveKeyLen("password", iterations, 16)
		assert.Nil(t, dk)
		assert.ErrorIs(t, err, ErrInvalidIterationCount)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	k, err := NewWithSalt(HMACSHA256, []byte("salt"))
	require.NoError(t, err)

	_, err = k.DeriveKeyLen("password", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
	_, err = k.DeriveKeyLen("password", 1, -1)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

type recordingProvider struct {
	Provider
	keyed int
}

func (p *recordingProvider) Keyed(key []byte) (hash.Hash, error) {
	p.keyed++
	return p.Provider.Keyed(key)
}

func TestDerivedKeyTooLong(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("bound is not representable in int")
	}

	base, err := HMACRIPEMD160.Provider()
	require.NoError(t, err)
	p := &recordingProvider{Provider: base}

	k, err := NewWithProvider(p, []byte("salt"))
	require.NoError(t, err)

	limit := uint64(1<<32-1) * uint64(k.PRFSize())
	dk, err := k.DeriveKeyLen("password", 1, int(limit)+1)
	assert.Nil(t, dk)
	assert.ErrorIs(t, err, ErrDerivedKeyTooLong)
	assert.Zero(t, p.keyed)
}

type failingProvider struct {
	keyErr   error
	writeErr error
}

func (p *failingProvider) Name() string { return "failing" }
func (p *failingProvider) Size() int    { return 8 }

func (p *failingProvider) Keyed(key []byte) (hash.Hash, error) {
	if p.keyErr != nil {
		return nil, p.keyErr
	}
	return &failingHash{Hash: hmac.New(sha256.New, key), err: p.writeErr}, nil
}

type failingHash struct {
	hash.Hash
	err error
}

func (h *failingHash) Write(p []byte) (int, error) { return 0, h.err }

var errBadKey = errors.New("bad key material")

func TestPRFProviderFailure(t *testing.T) {
	k, err := NewWithProvider(&failingProvider{keyErr: errBadKey}, []byte("salt"))
	require.NoError(t, err)

	dk, err := k.DeriveKeyLen("password", 1, 8)
	assert.Nil(t, dk)
	assert.ErrorIs(t, err, ErrPRFProvider)
	assert.ErrorIs(t, err, errBadKey)

	k, err = NewWithProvider(&failingProvider{writeErr: errBadKey}, []byte("salt"))
	require.NoError(t, err)

	dk, err = k.DeriveKeyLen("password", 1, 8)
	assert.Nil(t, dk)
	assert.ErrorIs(t, err, ErrPRFProvider)
	assert.ErrorIs(t, err, errBadKey)
}

func TestProviderOutputSizeMismatch(t *testing.T) {
	// Claims 8 bytes but produces SHA-256 output.
	k, err := NewWithProvider(&failingProvider{}, []byte("salt"))
	require.NoError(t, err)

	_, err = k.DeriveKeyLen("password", 1, 8)
	assert.ErrorIs(t, err, ErrPRFProvider)
}

func TestDestroy(t *testing.T) {
	k, err := New(HMACSHA256)
	require.NoError(t, err)

	k.Destroy()
	assert.Equal(t, make([]byte, 32), k.Salt())

	dk, err := k.DeriveKey("password", 1)
	assert.Nil(t, dk)
	assert.ErrorIs(t, err, ErrEngineDestroyed)
}

func TestConcurrentDerivation(t *testing.T) {
	k, err := NewWithSalt(HMACSHA512, []byte("shared"))
	require.NoError(t, err)

	want, err := k.DeriveKeyLen("password", 50, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = k.DeriveKeyLen("password", 50, 100)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestParsePRF(t *testing.T) {
	tests := map[string]PRF{
		"HMAC-SHA256":    HMACSHA256,
		"hmac-sha-256":   HMACSHA256,
		"HMAC_SHA512":    HMACSHA512,
		"sha512":         HMACSHA512,
		"RIPEMD160/HMAC": HMACRIPEMD160,
		"hmac-ripemd160": HMACRIPEMD160,
		"HMAC-Whirlpool": HMACWhirlpool,
	}
	for name, want := range tests {
		got, err := ParsePRF(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
		assert.True(t, got.Valid())
	}

	for _, prf := range []PRF{HMACSHA256, HMACSHA512, HMACRIPEMD160, HMACWhirlpool} {
		got, err := ParsePRF(prf.String())
		require.NoError(t, err)
		assert.Equal(t, prf, got)
	}

	_, err := ParsePRF("hmac-md5")
	assert.ErrorIs(t, err, ErrUnsupportedPRF)
	assert.False(t, PRF(7).Valid())
	assert.Equal(t, "PRF(7)", PRF(7).String())
}
