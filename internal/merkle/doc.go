// Package merkle implements the commitment engine: a binary Merkle tree over a
// canonically sorted symbol set, parameterised by a sort order and a hash
// function, together with self-contained inclusion proofs and their codecs.
//
// Two configurations are provided. Block sorts by position in block and hashes
// with SHA-256. Causal sorts by (actor, nonce, sequence) and hashes with
// Keccak-256 so roots and proofs can be checked by EVM verifiers.
package merkle
