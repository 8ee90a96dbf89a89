package merkle

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

func sampleTree(cfg Config) *Tree {
	actor := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	var symbols []symbol.Symbol
	for i := 0; i < 11; i++ {
		symbols = append(symbols, symbol.MustNew("Sw",
			symbol.WithPosition(uint32(i)),
			symbol.WithCausality(actor, 0, uint32(i)),
			symbol.WithMetadata([]byte{byte(i)})))
	}
	return Build(cfg, symbols)
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, cfg := range []Config{Block, Causal} {
		tree := sampleTree(cfg)
		for i := 0; i < tree.Len(); i++ {
			proof := tree.ProofAt(i)
			raw, err := proof.MarshalBinary()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded, err := Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			want := proof.Clone()
			want.Event = nil
			if !reflect.DeepEqual(decoded, want) {
				t.Fatalf("%s proof %d: round trip mismatch\n got %+v\nwant %+v", cfg.Scheme, i, decoded, want)
			}
			if !decoded.Verify(tree.Root()) {
				t.Fatalf("decoded proof must verify")
			}
		}
	}
}

func TestDecodeRejectsTruncation(t *testing.T) {
	tree := sampleTree(Causal)
	raw, err := tree.ProofAt(3).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for n := 0; n < len(raw); n++ {
		if _, err := Decode(raw[:n]); err == nil {
			t.Fatalf("expected truncated input of %d bytes to fail", n)
		} else if xerrors.CodeOf(err) != CodeMalformedProof {
			t.Fatalf("expected %s, got %v", CodeMalformedProof, err)
		}
	}
	if _, err := Decode(append(raw, 0)); err == nil {
		t.Fatalf("expected trailing byte to fail")
	}
}

func TestDecodeRejectsBadFields(t *testing.T) {
	tree := sampleTree(Block)
	raw, err := tree.ProofAt(0).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	badScheme := append([]byte(nil), raw...)
	badScheme[0] = 9
	if _, err := Decode(badScheme); err == nil {
		t.Fatalf("expected unknown scheme to fail")
	}

	badName := append([]byte(nil), raw...)
	badName[3] = ' '
	if _, err := Decode(badName); err == nil {
		t.Fatalf("expected invalid name byte to fail")
	}

	// 11 leaves give a 4-sibling path; the high nibble of the direction byte
	// is padding and must be zero.
	dirOffset := len(raw) - 32 - 1
	badPad := append([]byte(nil), raw...)
	badPad[dirOffset] |= 0x80
	if _, err := Decode(badPad); err == nil {
		t.Fatalf("expected non-zero padding to fail")
	}
}

func TestMarshalRejectsMismatchedLists(t *testing.T) {
	proof := sampleTree(Block).ProofAt(0)
	proof.Directions = proof.Directions[:1]
	if _, err := proof.MarshalBinary(); err == nil {
		t.Fatalf("expected mismatched lists to fail")
	}
	if proof.Verify(proof.Root) {
		t.Fatalf("mismatched lists must never verify")
	}
}

func TestTamperingBreaksVerification(t *testing.T) {
	tree := sampleTree(Block)
	proof := tree.ProofAt(5)

	tampered := proof.Clone()
	tampered.Path[1][0] ^= 0x01
	if tampered.Verify(tree.Root()) {
		t.Fatalf("altered sibling must not verify")
	}

	tampered = proof.Clone()
	tampered.LeafHash = SHA256([]byte("Tf"))
	if tampered.Verify(tree.Root()) {
		t.Fatalf("substituted leaf must not verify")
	}

	tampered = proof.Clone()
	tampered.Directions[0] = !tampered.Directions[0]
	if tampered.Verify(tree.Root()) {
		t.Fatalf("flipped direction must not verify")
	}

	wrongRoot := tree.Root()
	wrongRoot[31] ^= 0xff
	if proof.Verify(wrongRoot) {
		t.Fatalf("wrong root must not verify")
	}

	var nilProof *Proof
	if nilProof.Verify(tree.Root()) {
		t.Fatalf("nil proof must not verify")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for _, cfg := range []Config{Block, Causal} {
		proof := sampleTree(cfg).ProofAt(7)
		raw, err := json.Marshal(proof)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Proof
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !reflect.DeepEqual(&decoded, proof) {
			t.Fatalf("%s: json round trip mismatch: %s", cfg.Scheme, raw)
		}
		if decoded.Event == nil || !decoded.Event.Equal(*proof.Event) {
			t.Fatalf("%s: json round trip lost the proven event", cfg.Scheme)
		}
	}
}

func TestJSONRejectsForeignEvent(t *testing.T) {
	proof := sampleTree(Block).ProofAt(2)
	foreign := symbol.MustNew("Tf", symbol.WithPosition(2))
	proof.Event = &foreign
	raw, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Proof
	if err := json.Unmarshal(raw, &decoded); xerrors.CodeOf(err) != CodeMalformedProof {
		t.Fatalf("expected %s, got %v", CodeMalformedProof, err)
	}
}

func TestJSONRejectsMismatchedLists(t *testing.T) {
	raw := `{"scheme":"block","name":"Tf","position":0,` +
		`"leaf_hash":"0x0000000000000000000000000000000000000000000000000000000000000000",` +
		`"path":[],"directions":[true],` +
		`"root":"0x0000000000000000000000000000000000000000000000000000000000000000"}`
	var p Proof
	if err := json.Unmarshal([]byte(raw), &p); err == nil {
		t.Fatalf("expected mismatched lists to fail")
	}
}
