package proofs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "Behavior-Chain/internal/errors"
)

func failed(format string, args ...any) error {
	return xerrors.Newf(CodeVerificationFailed, format, args...)
}

// Check runs every verifier check on b and returns the first failure as a
// CodeVerificationFailed error. The query is re-matched against the bundle's
// events alone, so supersets, subsets and reorderings of genuinely committed
// events are rejected.
func Check(b *Bundle, now time.Time) error {
	if b == nil {
		return failed("nil bundle")
	}
	cfg, ok := b.Scheme.Config()
	if !ok {
		return failed("unknown scheme %d", b.Scheme)
	}
	if err := b.Query.Validate(); err != nil {
		return failed("invalid query: %v", err)
	}
	if len(b.Events) != len(b.Proofs) {
		return failed("%d events but %d proofs", len(b.Events), len(b.Proofs))
	}

	for i, event := range b.Events {
		proof := b.Proofs[i]
		switch {
		case proof == nil:
			return failed("proof %d missing", i)
		case proof.Scheme != b.Scheme:
			return failed("proof %d uses scheme %s, bundle uses %s", i, proof.Scheme, b.Scheme)
		case proof.Event == nil:
			return failed("proof %d does not carry its event", i)
		case !proof.Matches(event):
			return failed("proof %d does not identify event %s", i, event)
		case proof.LeafHash != event.LeafHash(cfg.Hash):
			return failed("proof %d leaf does not hash event %s", i, event)
		case proof.Root != b.Root:
			return failed("proof %d targets root %s, bundle claims %s", i, proof.Root.Hex(), b.Root.Hex())
		case !proof.Verify(b.Root):
			return failed("proof %d does not fold to the bundle root", i)
		}
		if i > 0 && cfg.Compare(b.Events[i-1], event) > 0 {
			return failed("event %d is out of canonical order", i)
		}
	}

	indices, ok := b.Query.MatchIndices(b.Events, now)
	if !ok {
		return failed("events do not satisfy query %q", b.Query.String())
	}
	if len(indices) != len(b.Events) {
		return failed("query matches %d of %d claimed events", len(indices), len(b.Events))
	}
	for i, idx := range indices {
		if idx != i {
			return failed("query re-match diverges at event %d", i)
		}
	}
	if len(indices) < b.Query.MinCount() {
		return failed("%d events below minimum count %d", len(indices), b.Query.MinCount())
	}
	return nil
}

// Verify reports whether b passes every check at time now.
func Verify(b *Bundle, now time.Time) bool {
	return Check(b, now) == nil
}

// VerifyBatch verifies independent bundles concurrently with at most workers
// goroutines. Results are returned in input order. The error is non-nil only
// when ctx is cancelled before every bundle was checked.
func VerifyBatch(ctx context.Context, bundles []*Bundle, now time.Time, workers int) ([]bool, error) {
	results := make([]bool, len(bundles))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range bundles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Verify(bundles[i], now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
