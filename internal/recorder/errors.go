package recorder

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
)

const (
	// CodeSequenceGap marks an event whose intra-transaction sequence does
	// not continue the actor's history.
	CodeSequenceGap xerrors.Code = "SEQUENCE_GAP"
	// CodeNonceGap marks an event whose transaction nonce skips or repeats.
	CodeNonceGap xerrors.Code = "NONCE_GAP"
)

func init() {
	xerrors.Register(CodeSequenceGap, xerrors.Attributes{
		Message:  "event sequence gap",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNonceGap, xerrors.Attributes{
		Message:  "event nonce gap",
		Severity: xerrors.SeverityInfo,
	})
}

// SequenceGapError reports a non-contiguous sequence index.
type SequenceGapError struct {
	Actor    common.Address
	Expected uint32
	Actual   uint32
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("event sequence gap detected: expected %d, got %d", e.Expected, e.Actual)
}

// NonceGapError reports a non-contiguous transaction nonce.
type NonceGapError struct {
	Actor    common.Address
	Expected uint64
	Actual   uint64
}

func (e *NonceGapError) Error() string {
	return fmt.Sprintf("nonce gap detected: expected %d, got %d", e.Expected, e.Actual)
}

func sequenceGap(actor common.Address, expected, actual uint32) error {
	cause := &SequenceGapError{Actor: actor, Expected: expected, Actual: actual}
	return xerrors.Wrap(CodeSequenceGap, cause, "causal ordering violated",
		xerrors.WithMetadata("actor", actor.Hex()),
		xerrors.WithMetadata("expected", strconv.FormatUint(uint64(expected), 10)),
		xerrors.WithMetadata("actual", strconv.FormatUint(uint64(actual), 10)))
}

func nonceGap(actor common.Address, expected, actual uint64) error {
	cause := &NonceGapError{Actor: actor, Expected: expected, Actual: actual}
	return xerrors.Wrap(CodeNonceGap, cause, "causal ordering violated",
		xerrors.WithMetadata("actor", actor.Hex()),
		xerrors.WithMetadata("expected", strconv.FormatUint(expected, 10)),
		xerrors.WithMetadata("actual", strconv.FormatUint(actual, 10)))
}
