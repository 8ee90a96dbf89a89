package merkle

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	sha256 "github.com/minio/sha256-simd"

	"Behavior-Chain/internal/symbol"
)

// HashFunc hashes the concatenation of its arguments.
type HashFunc func(data ...[]byte) common.Hash

// SHA256 hashes the concatenation of data with SHA-256.
func SHA256(data ...[]byte) common.Hash {
	h := sha256.New()
	for _, b := range data {
		h.Write(b)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Keccak256 hashes the concatenation of data with Keccak-256.
func Keccak256(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

// Scheme identifies a tree configuration on the wire.
type Scheme uint8

const (
	// SchemeBlock sorts by position in block and hashes with SHA-256.
	SchemeBlock Scheme = 1
	// SchemeCausal sorts by actor, nonce and sequence and hashes with Keccak-256.
	SchemeCausal Scheme = 2
)

// Config parameterises the shared build algorithm.
type Config struct {
	Scheme  Scheme
	Compare func(a, b symbol.Symbol) int
	Hash    HashFunc
}

// Block and Causal are the two supported configurations.
var (
	Block  = Config{Scheme: SchemeBlock, Compare: symbol.CompareBlock, Hash: SHA256}
	Causal = Config{Scheme: SchemeCausal, Compare: symbol.CompareCausal, Hash: Keccak256}
)

// Valid reports whether s names a known configuration.
func (s Scheme) Valid() bool {
	return s == SchemeBlock || s == SchemeCausal
}

// Config returns the configuration for s.
func (s Scheme) Config() (Config, bool) {
	switch s {
	case SchemeBlock:
		return Block, true
	case SchemeCausal:
		return Causal, true
	default:
		return Config{}, false
	}
}

func (s Scheme) String() string {
	switch s {
	case SchemeBlock:
		return "block"
	case SchemeCausal:
		return "causal"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scheme) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown scheme %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseScheme maps "block" or "causal" to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "block":
		return SchemeBlock, nil
	case "causal":
		return SchemeCausal, nil
	default:
		return 0, fmt.Errorf("unknown scheme %q", name)
	}
}
