package symbol

import (
	"bytes"
	"cmp"
	"slices"
	"strings"
)

// CompareBlock orders symbols by position in block, then by name. Remaining
// ties are broken on metadata so the order is total over distinct leaves.
func CompareBlock(a, b Symbol) int {
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return bytes.Compare(a.Metadata, b.Metadata)
}

// CompareCausal orders symbols by actor bytes, transaction nonce, then
// intra-transaction sequence.
func CompareCausal(a, b Symbol) int {
	if c := bytes.Compare(a.Actor[:], b.Actor[:]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Nonce, b.Nonce); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return bytes.Compare(a.Metadata, b.Metadata)
}

// Sorted returns a sorted copy of symbols; the input is left untouched.
func Sorted(symbols []Symbol, compare func(a, b Symbol) int) []Symbol {
	out := make([]Symbol, len(symbols))
	for i := range symbols {
		out[i] = symbols[i].Clone()
	}
	slices.SortStableFunc(out, compare)
	return out
}
