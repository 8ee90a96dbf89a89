// Package proofs assembles and verifies behavioral proof bundles: a claimed
// query, the events that satisfy it, one inclusion proof per event and the
// root they commit to. Verification is total and returns false on any
// tampered, reordered or malformed bundle.
//
// The package also carries the pieces that move bundles beyond the process:
// the JSON codec, signed block commitments, calldata for the on-chain
// verifier and the scoring used by validation requests.
package proofs
