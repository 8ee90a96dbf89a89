package proofs

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Commitment binds a behavioral root to a block so a trusted signer can
// attest to it.
type Commitment struct {
	ChainID      uint64      `json:"chain_id"`
	BlockNumber  uint64      `json:"block_number"`
	ReceiptsRoot common.Hash `json:"receipts_root"`
	Root         common.Hash `json:"root"`
}

// SigningBytes returns chain_id | block_number | receipts_root | root, with
// integers big-endian: 80 bytes.
func (c Commitment) SigningBytes() []byte {
	out := make([]byte, 0, 80)
	out = binary.BigEndian.AppendUint64(out, c.ChainID)
	out = binary.BigEndian.AppendUint64(out, c.BlockNumber)
	out = append(out, c.ReceiptsRoot[:]...)
	out = append(out, c.Root[:]...)
	return out
}

// Hash returns the Keccak-256 of the signing bytes.
func (c Commitment) Hash() common.Hash {
	return crypto.Keccak256Hash(c.SigningBytes())
}

// Sign produces a 65-byte recoverable signature over Hash.
func (c Commitment) Sign(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("sign commitment: nil key")
	}
	h := c.Hash()
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}
	return sig, nil
}

// Signer recovers the address that produced sig.
func (c Commitment) Signer(sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	h := c.Hash()
	pub, err := crypto.SigToPub(h[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignedBy reports whether sig was produced by signer.
func (c Commitment) SignedBy(sig []byte, signer common.Address) bool {
	addr, err := c.Signer(sig)
	return err == nil && addr == signer
}
