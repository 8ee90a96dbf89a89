package proofs

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
)

// VerifyBehaviorSignature is the Solidity signature of the on-chain verifier.
const VerifyBehaviorSignature = "verifyBehavior(uint256,uint256,string[],uint32[],bytes32[],bytes32[],bytes32,bytes32,uint256,bytes32,bytes,address)"

var (
	verifyBehaviorSelector = crypto.Keccak256([]byte(VerifyBehaviorSignature))[:4]
	verifyBehaviorArgs     = mustArguments(
		"uint256", "uint256", "string[]", "uint32[]", "bytes32[]", "bytes32[]",
		"bytes32", "bytes32", "uint256", "bytes32", "bytes", "address",
	)
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// Selector returns the 4-byte function selector of verifyBehavior.
func Selector() []byte {
	return append([]byte(nil), verifyBehaviorSelector...)
}

// OnChain is a causal bundle flattened into the argument list of the on-chain
// verifier. MerklePath holds every proof's siblings, concatenated in event
// order.
type OnChain struct {
	BlockNumber  uint64         `json:"block_number"`
	ChainID      uint64         `json:"chain_id"`
	Symbols      []string       `json:"symbols"`
	LogIndices   []uint32       `json:"log_indices"`
	LeafHashes   []common.Hash  `json:"leaf_hashes"`
	MerklePath   []common.Hash  `json:"merkle_path"`
	Root         common.Hash    `json:"bmt_root"`
	BeaconRoot   common.Hash    `json:"beacon_root"`
	Timestamp    uint64         `json:"timestamp"`
	ReceiptsRoot common.Hash    `json:"receipts_root"`
	Signature    []byte         `json:"signature,omitempty"`
	Signer       common.Address `json:"signer"`
}

// ExportOptions carries the block context that a bundle does not record.
type ExportOptions struct {
	ChainID      uint64
	BlockNumber  uint64
	BeaconRoot   common.Hash
	Timestamp    uint64
	ReceiptsRoot common.Hash
	Signature    []byte
	Signer       common.Address
}

// Export flattens a causal bundle for on-chain verification. Bundles built
// under the block configuration hash leaves with SHA-256 and are rejected.
func Export(b *Bundle, opts ExportOptions) (*OnChain, error) {
	if b == nil {
		return nil, xerrors.New(CodeMalformedBundle, "nil bundle")
	}
	if b.Scheme != merkle.SchemeCausal {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("on-chain export requires a causal bundle, got %s", b.Scheme))
	}
	if len(b.Events) != len(b.Proofs) {
		return nil, xerrors.New(CodeMalformedBundle, "events and proofs differ in length")
	}

	out := &OnChain{
		BlockNumber:  opts.BlockNumber,
		ChainID:      opts.ChainID,
		Symbols:      make([]string, len(b.Events)),
		LogIndices:   make([]uint32, len(b.Events)),
		LeafHashes:   make([]common.Hash, len(b.Events)),
		Root:         b.Root,
		BeaconRoot:   opts.BeaconRoot,
		Timestamp:    opts.Timestamp,
		ReceiptsRoot: opts.ReceiptsRoot,
		Signature:    append([]byte(nil), opts.Signature...),
		Signer:       opts.Signer,
	}
	for i, event := range b.Events {
		proof := b.Proofs[i]
		if proof == nil {
			return nil, xerrors.New(CodeMalformedBundle, fmt.Sprintf("proof %d missing", i))
		}
		out.Symbols[i] = event.Name
		out.LogIndices[i] = event.Position
		out.LeafHashes[i] = proof.LeafHash
		out.MerklePath = append(out.MerklePath, proof.Path...)
	}
	return out, nil
}

func hashes32(in []common.Hash) [][32]byte {
	out := make([][32]byte, len(in))
	for i, h := range in {
		out[i] = h
	}
	return out
}

// Calldata returns the selector followed by the ABI-encoded arguments.
func (o *OnChain) Calldata() ([]byte, error) {
	packed, err := verifyBehaviorArgs.Pack(
		new(big.Int).SetUint64(o.BlockNumber),
		new(big.Int).SetUint64(o.ChainID),
		o.Symbols,
		o.LogIndices,
		hashes32(o.LeafHashes),
		hashes32(o.MerklePath),
		[32]byte(o.Root),
		[32]byte(o.BeaconRoot),
		new(big.Int).SetUint64(o.Timestamp),
		[32]byte(o.ReceiptsRoot),
		o.Signature,
		o.Signer,
	)
	if err != nil {
		return nil, fmt.Errorf("pack verifyBehavior arguments: %w", err)
	}
	return append(Selector(), packed...), nil
}
