package pkcs5

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/jzelinskie/whirlpool"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // deprecated upstream, still needed for HMAC-RIPEMD-160
)

// PRF selects the pseudorandom function used by a PBKDF2 engine.
type PRF int

const (
	HMACSHA256 PRF = iota + 1
	HMACSHA512
	HMACRIPEMD160
	HMACWhirlpool
)

// Provider is a keyed pseudorandom function. Keyed returns a hash whose
// Reset restores the freshly keyed state.
type Provider interface {
	Name() string
	Size() int
	Keyed(key []byte) (hash.Hash, error)
}

type hmacProvider struct {
	name    string
	size    int
	newHash func() hash.Hash
}

func (p *hmacProvider) Name() string { return p.name }
func (p *hmacProvider) Size() int    { return p.size }

func (p *hmacProvider) Keyed(key []byte) (hash.Hash, error) {
	return hmac.New(p.newHash, key), nil
}

var providers = map[PRF]*hmacProvider{
	HMACSHA256:    {name: "SHA-256/HMAC", size: sha256.Size, newHash: sha256.New},
	HMACSHA512:    {name: "SHA-512/HMAC", size: sha512.Size, newHash: sha512.New},
	HMACRIPEMD160: {name: "RIPEMD160/HMAC", size: ripemd160.Size, newHash: ripemd160.New},
	HMACWhirlpool: {name: "Whirlpool/HMAC", size: 64, newHash: whirlpool.New},
}

// Provider resolves the PRF choice to its HMAC implementation.
func (p PRF) Provider() (Provider, error) {
	prov, ok := providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPRF, int(p))
	}
	return prov, nil
}

// Valid reports whether p is one of the supported choices.
func (p PRF) Valid() bool {
	_, ok := providers[p]
	return ok
}

func (p PRF) String() string {
	switch p {
	case HMACSHA256:
		return "HMAC-SHA256"
	case HMACSHA512:
		return "HMAC-SHA512"
	case HMACRIPEMD160:
		return "HMAC-RIPEMD160"
	case HMACWhirlpool:
		return "HMAC-Whirlpool"
	default:
		return fmt.Sprintf("PRF(%d)", int(p))
	}
}

// ParsePRF accepts the names produced by String as well as common variants
// such as "hmac-sha-256", "HMAC_SHA256" or a bare digest name "sha512".
func ParsePRF(name string) (PRF, error) {
	n := strings.ToLower(name)
	n = strings.NewReplacer("-", "", "_", "", " ", "", "/", "").Replace(n)
	n = strings.TrimPrefix(n, "hmac")
	n = strings.TrimSuffix(n, "hmac")

	switch n {
	case "sha256":
		return HMACSHA256, nil
	case "sha512":
		return HMACSHA512, nil
	case "ripemd160", "rmd160":
		return HMACRIPEMD160, nil
	case "whirlpool":
		return HMACWhirlpool, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPRF, name)
	}
}
