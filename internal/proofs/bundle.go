package proofs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/pkg/logger"
)

const (
	// CodeInsufficientOccurrences means the history does not satisfy the query.
	CodeInsufficientOccurrences xerrors.Code = "INSUFFICIENT_OCCURRENCES"
	// CodeVerificationFailed means a bundle failed one of the verifier checks.
	CodeVerificationFailed xerrors.Code = "VERIFICATION_FAILED"
	// CodeMalformedBundle means the bytes do not decode to a bundle.
	CodeMalformedBundle xerrors.Code = "MALFORMED_BUNDLE"
	// CodeInternalDesync means a matched symbol was not found in the tree.
	CodeInternalDesync xerrors.Code = "INTERNAL_DESYNC"
)

func init() {
	xerrors.Register(CodeInsufficientOccurrences, xerrors.Attributes{
		Message:  "pattern not satisfied by history",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeVerificationFailed, xerrors.Attributes{
		Message:  "behavioral proof verification failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeMalformedBundle, xerrors.Attributes{
		Message:  "malformed proof bundle",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInternalDesync, xerrors.Attributes{
		Message:  "matched symbol missing from tree",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Bundle is a behavioral proof: the events matching Query, their inclusion
// proofs in the same order and the root every proof targets.
type Bundle struct {
	ID          uuid.UUID       `json:"id"`
	Scheme      merkle.Scheme   `json:"scheme"`
	Query       pattern.Query   `json:"query"`
	Events      []symbol.Symbol `json:"events"`
	Proofs      []*merkle.Proof `json:"proofs"`
	Root        common.Hash     `json:"root"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Generate matches q over the tree's canonical symbol sequence and proves
// every matched symbol. It never returns a partial bundle.
func Generate(tree *merkle.Tree, q pattern.Query, now time.Time) (*Bundle, error) {
	if tree == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "tree is required")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	symbols := tree.Symbols()
	indices, ok := q.MatchIndices(symbols, now)
	if !ok || len(indices) < q.MinCount() {
		return nil, xerrors.New(CodeInsufficientOccurrences,
			fmt.Sprintf("query %q not satisfied by %d events", q.String(), len(symbols)),
			xerrors.WithMetadata("min_count", fmt.Sprint(q.MinCount())))
	}

	b := &Bundle{
		ID:          uuid.New(),
		Scheme:      tree.Config().Scheme,
		Query:       q,
		Events:      make([]symbol.Symbol, 0, len(indices)),
		Proofs:      make([]*merkle.Proof, 0, len(indices)),
		Root:        tree.Root(),
		GeneratedAt: now.UTC(),
	}
	for _, idx := range indices {
		matched := symbols[idx]
		proof, ok := tree.ProofFor(matched)
		if !ok {
			logger.Named("proofs").Error("matched symbol missing from tree",
				slog.String("symbol", matched.String()),
				slog.Int("index", idx),
				slog.String("root", tree.Root().Hex()))
			return nil, xerrors.New(CodeInternalDesync,
				fmt.Sprintf("matched symbol %s not found in tree", matched))
		}
		b.Events = append(b.Events, matched)
		b.Proofs = append(b.Proofs, proof)
	}
	return b, nil
}

// Marshal encodes a bundle for transport.
func Marshal(b *Bundle) ([]byte, error) {
	if b == nil {
		return nil, xerrors.New(CodeMalformedBundle, "nil bundle")
	}
	return json.Marshal(b)
}

// Unmarshal decodes a bundle. Events are validated while decoding.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, xerrors.Wrap(CodeMalformedBundle, err, "decode bundle")
	}
	return &b, nil
}
