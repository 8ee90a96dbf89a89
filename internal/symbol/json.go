package symbol

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	xerrors "Behavior-Chain/internal/errors"
)

type symbolJSON struct {
	Name         string          `json:"name"`
	Position     uint32          `json:"position"`
	Actor        common.Address  `json:"actor"`
	Nonce        uint64          `json:"nonce"`
	Sequence     uint32          `json:"sequence"`
	Result       string          `json:"result,omitempty"`
	Value        string          `json:"value,omitempty"`
	Counterparty *common.Address `json:"counterparty,omitempty"`
	FromDeployer bool            `json:"from_deployer,omitempty"`
	Metadata     hexutil.Bytes   `json:"metadata,omitempty"`
	Timestamp    uint64          `json:"timestamp"`
}

// MarshalJSON encodes addresses and metadata as hex and the value as a decimal
// string.
func (s Symbol) MarshalJSON() ([]byte, error) {
	out := symbolJSON{
		Name:         s.Name,
		Position:     s.Position,
		Actor:        s.Actor,
		Nonce:        s.Nonce,
		Sequence:     s.Sequence,
		Result:       s.Result,
		Counterparty: s.Counterparty,
		FromDeployer: s.FromDeployer,
		Metadata:     s.Metadata,
		Timestamp:    s.Timestamp,
	}
	if s.Value != nil {
		out.Value = s.Value.Dec()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates a symbol.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	var in symbolJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return xerrors.Wrap(CodeFieldValidation, err, "decode symbol")
	}
	opts := []Option{
		WithPosition(in.Position),
		WithCausality(in.Actor, in.Nonce, in.Sequence),
		WithResult(in.Result),
		WithFromDeployer(in.FromDeployer),
		WithMetadata(in.Metadata),
		WithTimestamp(in.Timestamp),
	}
	if in.Value != "" {
		value, err := uint256.FromDecimal(in.Value)
		if err != nil {
			return xerrors.Wrap(CodeFieldValidation, err, fmt.Sprintf("invalid value %q", in.Value),
				xerrors.WithMetadata("field", "value"))
		}
		opts = append(opts, WithValue(value))
	}
	if in.Counterparty != nil {
		opts = append(opts, WithCounterparty(*in.Counterparty))
	}
	decoded, err := New(in.Name, opts...)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
