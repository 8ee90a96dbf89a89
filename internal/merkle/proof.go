package merkle

import (
	"github.com/ethereum/go-ethereum/common"

	"Behavior-Chain/internal/symbol"
)

// Key is the ordering identity of a proven symbol. Block proofs use Position,
// causal proofs use Actor, Nonce and Sequence.
type Key struct {
	Position uint32
	Actor    common.Address
	Nonce    uint64
	Sequence uint32
}

// KeyOf extracts the ordering keys scheme uses for sym.
func KeyOf(scheme Scheme, sym symbol.Symbol) Key {
	if scheme == SchemeCausal {
		return Key{Actor: sym.Actor, Nonce: sym.Nonce, Sequence: sym.Sequence}
	}
	return Key{Position: sym.Position}
}

// Proof is a self-contained inclusion proof. Event holds the full proven
// symbol; it travels in the JSON form only and is nil after a binary decode.
type Proof struct {
	Scheme     Scheme
	Name       string
	Key        Key
	Event      *symbol.Symbol
	LeafHash   common.Hash
	Path       []common.Hash
	Directions []bool // true when the sibling is on the right
	Root       common.Hash
}

// Depth returns the number of siblings on the path.
func (p *Proof) Depth() int { return len(p.Path) }

// Matches reports whether the proof identifies sym under its scheme's key.
// When the proof carries its event, every field of sym must equal it.
func (p *Proof) Matches(sym symbol.Symbol) bool {
	if p == nil || p.Name != sym.Name {
		return false
	}
	if p.Event != nil && !p.Event.Equal(sym) {
		return false
	}
	return p.Scheme.Valid() && p.Key == KeyOf(p.Scheme, sym)
}

// ComputeRoot folds the leaf hash along the path. It reports false for an
// unknown scheme or when path and directions differ in length.
func (p *Proof) ComputeRoot() (common.Hash, bool) {
	if p == nil || len(p.Path) != len(p.Directions) {
		return common.Hash{}, false
	}
	cfg, ok := p.Scheme.Config()
	if !ok {
		return common.Hash{}, false
	}
	current := p.LeafHash
	for i, sibling := range p.Path {
		if p.Directions[i] {
			current = cfg.Hash(current[:], sibling[:])
		} else {
			current = cfg.Hash(sibling[:], current[:])
		}
	}
	return current, true
}

// Verify reports whether the proof folds to expected. It never panics.
func (p *Proof) Verify(expected common.Hash) bool {
	root, ok := p.ComputeRoot()
	return ok && root == expected
}

// Clone returns a deep copy.
func (p *Proof) Clone() *Proof {
	if p == nil {
		return nil
	}
	c := *p
	if p.Event != nil {
		ev := p.Event.Clone()
		c.Event = &ev
	}
	c.Path = append([]common.Hash(nil), p.Path...)
	c.Directions = append([]bool(nil), p.Directions...)
	return &c
}
