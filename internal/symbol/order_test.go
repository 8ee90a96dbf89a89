package symbol

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func names(symbols []Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.String()
	}
	return out
}

func TestSortedBlockOrder(t *testing.T) {
	input := []Symbol{
		MustNew("Wdw", WithPosition(5)),
		MustNew("Tf", WithPosition(2)),
		MustNew("Dep", WithPosition(2)),
		MustNew("Tf", WithPosition(0)),
	}
	got := names(Sorted(input, CompareBlock))
	want := []string{"Tf@0", "Dep@2", "Tf@2", "Wdw@5"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s (full %v)", i, want[i], got[i], got)
		}
	}
	if input[0].Name != "Wdw" {
		t.Fatalf("input slice must not be reordered")
	}
}

func TestSortedCausalOrder(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	input := []Symbol{
		MustNew("Sw", WithCausality(b, 0, 0)),
		MustNew("Tf", WithCausality(a, 1, 0)),
		MustNew("Tf", WithCausality(a, 0, 1)),
		MustNew("Dep", WithCausality(a, 0, 0)),
	}
	got := Sorted(input, CompareCausal)
	expect := []struct {
		actor common.Address
		nonce uint64
		seq   uint32
	}{{a, 0, 0}, {a, 0, 1}, {a, 1, 0}, {b, 0, 0}}
	for i, e := range expect {
		if got[i].Actor != e.actor || got[i].Nonce != e.nonce || got[i].Sequence != e.seq {
			t.Fatalf("position %d: unexpected %s", i, got[i])
		}
	}
}

func TestCompareBlockIsTotalOnMetadata(t *testing.T) {
	x := MustNew("Tf", WithPosition(1), WithMetadata([]byte{1}))
	y := MustNew("Tf", WithPosition(1), WithMetadata([]byte{2}))
	if CompareBlock(x, y) >= 0 || CompareBlock(y, x) <= 0 {
		t.Fatalf("metadata must break ties")
	}
	if CompareBlock(x, x) != 0 {
		t.Fatalf("identical symbols must compare equal")
	}
}
