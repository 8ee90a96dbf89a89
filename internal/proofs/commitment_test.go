package proofs

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/symbol"
)

func TestCommitmentSigningBytes(t *testing.T) {
	c := Commitment{
		ChainID:      1,
		BlockNumber:  0x0102030405060708,
		ReceiptsRoot: common.HexToHash("0xaa"),
		Root:         common.HexToHash("0xbb"),
	}
	raw := c.SigningBytes()
	if len(raw) != 80 {
		t.Fatalf("expected 80 bytes, got %d", len(raw))
	}
	if hex.EncodeToString(raw[:16]) != "00000000000000010102030405060708" {
		t.Fatalf("unexpected integer prefix %x", raw[:16])
	}
	if raw[47] != 0xaa || raw[79] != 0xbb {
		t.Fatalf("roots not in place: %x", raw)
	}
	if c.Hash() != crypto.Keccak256Hash(raw) {
		t.Fatalf("hash must be keccak of signing bytes")
	}
}

func TestCommitmentSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	c := Commitment{ChainID: 10, BlockNumber: 42, Root: common.HexToHash("0x01")}

	sig, err := c.Sign(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65 byte signature, got %d", len(sig))
	}
	got, err := c.Signer(sig)
	if err != nil || got != signer {
		t.Fatalf("expected signer %s, got %s (%v)", signer.Hex(), got.Hex(), err)
	}
	if !c.SignedBy(sig, signer) {
		t.Fatalf("SignedBy must accept the real signer")
	}

	altered := c
	altered.BlockNumber++
	if altered.SignedBy(sig, signer) {
		t.Fatalf("signature must not carry over to another block")
	}
	if _, err := c.Signer(sig[:64]); err == nil {
		t.Fatalf("expected short signature to fail")
	}
	if _, err := c.Sign(nil); err == nil {
		t.Fatalf("expected nil key to fail")
	}
}

func TestSelector(t *testing.T) {
	want := crypto.Keccak256([]byte(VerifyBehaviorSignature))[:4]
	if !bytes.Equal(Selector(), want) {
		t.Fatalf("unexpected selector %x", Selector())
	}
}

func TestExportCalldata(t *testing.T) {
	events := make([]symbol.Symbol, 3)
	for i := range events {
		events[i] = symbol.MustNew("Sw",
			symbol.WithPosition(uint32(10+i)),
			symbol.WithCausality(agent, 0, uint32(i)),
			symbol.WithMetadata([]byte{byte(i)}))
	}
	tree := merkle.NewCausalTree(events)
	q := pattern.DSLQuery(pattern.MustParse("Sw{3}"))
	b, err := Generate(tree, q, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	out, err := Export(b, ExportOptions{ChainID: 1, BlockNumber: 19_000_000, Timestamp: 1_700_000_000, Signature: make([]byte, 65)})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Symbols) != 3 || out.LogIndices[2] != 12 || out.Root != tree.Root() {
		t.Fatalf("unexpected export %+v", out)
	}
	// Three leaves give two siblings each.
	if len(out.MerklePath) != 6 {
		t.Fatalf("expected concatenated path of 6, got %d", len(out.MerklePath))
	}

	data, err := out.Calldata()
	if err != nil {
		t.Fatalf("calldata: %v", err)
	}
	if !bytes.Equal(data[:4], Selector()) {
		t.Fatalf("calldata must start with the selector")
	}
	if (len(data)-4)%32 != 0 {
		t.Fatalf("calldata body must be word aligned, got %d bytes", len(data)-4)
	}
	if new(big.Int).SetBytes(data[4:36]).Uint64() != 19_000_000 {
		t.Fatalf("first word must be the block number")
	}
	if new(big.Int).SetBytes(data[36:68]).Uint64() != 1 {
		t.Fatalf("second word must be the chain id")
	}
	if !bytes.Equal(data[4+6*32:4+7*32], tree.Root().Bytes()) {
		t.Fatalf("seventh word must be the root")
	}
}

func TestExportRejectsBlockBundles(t *testing.T) {
	b, err := Generate(merkle.NewBlockTree(block("Tf", "Sw")), pattern.DSLQuery(pattern.MustParse("Frontrun")), now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Export(b, ExportOptions{}); err == nil {
		t.Fatalf("expected block bundle export to fail")
	}
	if _, err := Export(nil, ExportOptions{}); err == nil {
		t.Fatalf("expected nil bundle export to fail")
	}
}
