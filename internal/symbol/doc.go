// Package symbol defines the behavioral symbol, the atomic unit every other
// package commits to, orders, matches and proves.
//
// A Symbol carries two families of ordering keys. Block-indexed commitments
// sort by (Position, Name); causal commitments sort by (Actor, Nonce,
// Sequence). The leaf hash only covers Name and Metadata, so positional
// tamper-evidence comes from the tree's sorted layout rather than from leaf
// content.
//
// The package also turns raw EVM logs into symbols through a topic0
// Dictionary and annotates deployer-originated actions using a
// DeployerRegistry.
package symbol
