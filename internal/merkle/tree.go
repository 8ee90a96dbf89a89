package merkle

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"Behavior-Chain/internal/symbol"
)

// Tree is an immutable Merkle tree over a sorted copy of a symbol set.
type Tree struct {
	cfg     Config
	symbols []symbol.Symbol
	layers  [][]common.Hash
	root    common.Hash
}

// Build sorts a copy of symbols with cfg.Compare and folds their leaf hashes
// pairwise up to a single root. An odd node at the end of a layer is paired
// with itself.
func Build(cfg Config, symbols []symbol.Symbol) *Tree {
	t := &Tree{cfg: cfg, symbols: symbol.Sorted(symbols, cfg.Compare)}
	if len(t.symbols) == 0 {
		t.root = cfg.Hash()
		return t
	}

	leaves := make([]common.Hash, len(t.symbols))
	for i, s := range t.symbols {
		leaves[i] = s.LeafHash(cfg.Hash)
	}
	t.layers = append(t.layers, leaves)

	for layer := leaves; len(layer) > 1; {
		next := make([]common.Hash, (len(layer)+1)/2)
		for i := range next {
			left := layer[2*i]
			right := left
			if 2*i+1 < len(layer) {
				right = layer[2*i+1]
			}
			next[i] = cfg.Hash(left[:], right[:])
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	t.root = t.layers[len(t.layers)-1][0]
	return t
}

// NewBlockTree builds a tree with the block configuration.
func NewBlockTree(symbols []symbol.Symbol) *Tree { return Build(Block, symbols) }

// NewCausalTree builds a tree with the causal configuration.
func NewCausalTree(symbols []symbol.Symbol) *Tree { return Build(Causal, symbols) }

// Root returns the committed root.
func (t *Tree) Root() common.Hash { return t.root }

// Config returns the configuration the tree was built with.
func (t *Tree) Config() Config { return t.cfg }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.symbols) }

// Depth returns the number of folding layers above the leaves.
func (t *Tree) Depth() int {
	if len(t.layers) == 0 {
		return 0
	}
	return len(t.layers) - 1
}

// Symbols returns a copy of the canonically sorted symbols.
func (t *Tree) Symbols() []symbol.Symbol {
	out := make([]symbol.Symbol, len(t.symbols))
	for i := range t.symbols {
		out[i] = t.symbols[i].Clone()
	}
	return out
}

// Symbol returns the symbol at sorted index i.
func (t *Tree) Symbol(i int) (symbol.Symbol, bool) {
	if i < 0 || i >= len(t.symbols) {
		return symbol.Symbol{}, false
	}
	return t.symbols[i].Clone(), true
}

// IndexOf returns the sorted index of the first symbol structurally equal to
// sym, or -1.
func (t *Tree) IndexOf(sym symbol.Symbol) int {
	start := sort.Search(len(t.symbols), func(i int) bool {
		return t.cfg.Compare(t.symbols[i], sym) >= 0
	})
	for i := start; i < len(t.symbols) && t.cfg.Compare(t.symbols[i], sym) == 0; i++ {
		if t.symbols[i].Equal(sym) {
			return i
		}
	}
	return -1
}

// ProofAt builds the inclusion proof for the leaf at sorted index i. The
// index must be in [0, Len()); anything else is a programming error and
// panics.
func (t *Tree) ProofAt(i int) *Proof {
	if i < 0 || i >= len(t.symbols) {
		panic(fmt.Sprintf("merkle: proof index %d out of range [0,%d)", i, len(t.symbols)))
	}
	sym := t.symbols[i].Clone()
	p := &Proof{
		Scheme:   t.cfg.Scheme,
		Name:     sym.Name,
		Key:      KeyOf(t.cfg.Scheme, sym),
		Event:    &sym,
		LeafHash: t.layers[0][i],
		Root:     t.root,
	}
	idx := i
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling >= len(layer) {
			sibling = idx
		}
		p.Path = append(p.Path, layer[sibling])
		p.Directions = append(p.Directions, idx%2 == 0)
		idx /= 2
	}
	return p
}

// ProofFor builds the proof for sym. It reports false when sym is not in the
// tree.
func (t *Tree) ProofFor(sym symbol.Symbol) (*Proof, bool) {
	i := t.IndexOf(sym)
	if i < 0 {
		return nil, false
	}
	return t.ProofAt(i), true
}
