package symbol

import (
	"bytes"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	xerrors "Behavior-Chain/internal/errors"
)

// CodeFieldValidation marks a symbol rejected by construction-time checks.
const CodeFieldValidation xerrors.Code = "FIELD_VALIDATION"

// MaxNameLength bounds symbol names so they always fit the proof codec.
const MaxNameLength = 64

func init() {
	xerrors.Register(CodeFieldValidation, xerrors.Attributes{
		Message:  "symbol field validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

// Outcome tags accepted in Symbol.Result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPartial = "partial"
	ResultTimeout = "timeout"
	ResultProfit  = "profit"
	ResultLoss    = "loss"
)

var allowedResults = mapset.NewSet(
	ResultSuccess, ResultFailure, ResultPartial, ResultTimeout, ResultProfit, ResultLoss,
)

// AllowedResults lists the accepted outcome tags.
func AllowedResults() []string {
	results := allowedResults.ToSlice()
	sort.Strings(results)
	return results
}

// Symbol is one recorded behavioral action. Values are built with New and must
// be treated as immutable once placed in a tree.
type Symbol struct {
	Name         string
	Position     uint32
	Actor        common.Address
	Nonce        uint64
	Sequence     uint32
	Result       string
	Value        *uint256.Int
	Counterparty *common.Address
	FromDeployer bool
	Metadata     []byte
	Timestamp    uint64
}

// Option sets an optional Symbol field during construction.
type Option func(*Symbol)

// WithPosition sets the position-in-block key.
func WithPosition(position uint32) Option {
	return func(s *Symbol) { s.Position = position }
}

// WithCausality sets the causal ordering keys.
func WithCausality(actor common.Address, nonce uint64, sequence uint32) Option {
	return func(s *Symbol) {
		s.Actor = actor
		s.Nonce = nonce
		s.Sequence = sequence
	}
}

// WithResult sets the outcome tag.
func WithResult(result string) Option {
	return func(s *Symbol) { s.Result = result }
}

// WithValue sets the numeric value. The argument is copied.
func WithValue(value *uint256.Int) Option {
	return func(s *Symbol) {
		if value == nil {
			s.Value = nil
			return
		}
		s.Value = new(uint256.Int).Set(value)
	}
}

// WithCounterparty sets the counterparty address.
func WithCounterparty(addr common.Address) Option {
	return func(s *Symbol) {
		a := addr
		s.Counterparty = &a
	}
}

// WithFromDeployer flags the action as originating from the contract deployer.
func WithFromDeployer(flag bool) Option {
	return func(s *Symbol) { s.FromDeployer = flag }
}

// WithMetadata attaches opaque metadata bytes. The slice is copied.
func WithMetadata(metadata []byte) Option {
	return func(s *Symbol) {
		if len(metadata) == 0 {
			s.Metadata = nil
			return
		}
		s.Metadata = bytes.Clone(metadata)
	}
}

// WithTimestamp sets the unix timestamp in seconds.
func WithTimestamp(ts uint64) Option {
	return func(s *Symbol) { s.Timestamp = ts }
}

// New builds and validates a symbol. Every optional field defaults to its zero
// value: no result tag, no value, no counterparty, empty metadata.
func New(name string, opts ...Option) (Symbol, error) {
	s := Symbol{Name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if err := s.Validate(); err != nil {
		return Symbol{}, err
	}
	return s, nil
}

// MustNew is New for fixtures and static tables; it panics on invalid input.
func MustNew(name string, opts ...Option) Symbol {
	s, err := New(name, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the fields every symbol must satisfy.
func (s Symbol) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Result != "" && !allowedResults.Contains(s.Result) {
		return xerrors.New(CodeFieldValidation,
			fmt.Sprintf("invalid result %q: allowed values are %v", s.Result, AllowedResults()),
			xerrors.WithMetadata("field", "result"))
	}
	return nil
}

// ValidateCausal adds the checks required for symbols tracked per actor.
func (s Symbol) ValidateCausal() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Actor == (common.Address{}) {
		return xerrors.New(CodeFieldValidation, "actor must not be the zero address",
			xerrors.WithMetadata("field", "actor"))
	}
	return nil
}

// ValidateName reports whether name is usable as a symbol name: non-empty, at
// most MaxNameLength bytes, made of ASCII letters, digits, '_', '+' or '-'.
func ValidateName(name string) error {
	if name == "" {
		return xerrors.New(CodeFieldValidation, "symbol name must not be empty",
			xerrors.WithMetadata("field", "name"))
	}
	if len(name) > MaxNameLength {
		return xerrors.New(CodeFieldValidation,
			fmt.Sprintf("symbol name exceeds %d bytes", MaxNameLength),
			xerrors.WithMetadata("field", "name"))
	}
	for i := 0; i < len(name); i++ {
		if !IsNameByte(name[i]) {
			return xerrors.New(CodeFieldValidation,
				fmt.Sprintf("invalid character %q in symbol name %q", name[i], name),
				xerrors.WithMetadata("field", "name"))
		}
	}
	return nil
}

// IsNameByte reports whether c may appear in a symbol name.
func IsNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '+', c == '-':
		return true
	}
	return false
}

// Equal reports structural equality over every field.
func (s Symbol) Equal(o Symbol) bool {
	if s.Name != o.Name || s.Position != o.Position || s.Actor != o.Actor ||
		s.Nonce != o.Nonce || s.Sequence != o.Sequence || s.Result != o.Result ||
		s.FromDeployer != o.FromDeployer || s.Timestamp != o.Timestamp {
		return false
	}
	if !bytes.Equal(s.Metadata, o.Metadata) {
		return false
	}
	switch {
	case s.Value == nil && o.Value == nil:
	case s.Value == nil || o.Value == nil:
		return false
	case !s.Value.Eq(o.Value):
		return false
	}
	switch {
	case s.Counterparty == nil && o.Counterparty == nil:
		return true
	case s.Counterparty == nil || o.Counterparty == nil:
		return false
	default:
		return *s.Counterparty == *o.Counterparty
	}
}

// Clone returns a deep copy.
func (s Symbol) Clone() Symbol {
	c := s
	if s.Value != nil {
		c.Value = new(uint256.Int).Set(s.Value)
	}
	if s.Counterparty != nil {
		addr := *s.Counterparty
		c.Counterparty = &addr
	}
	c.Metadata = bytes.Clone(s.Metadata)
	return c
}

// LeafHash hashes the leaf content: Name, followed by Metadata when present.
func (s Symbol) LeafHash(hash func(data ...[]byte) common.Hash) common.Hash {
	if len(s.Metadata) == 0 {
		return hash([]byte(s.Name))
	}
	return hash([]byte(s.Name), s.Metadata)
}

// String renders a short human readable form.
func (s Symbol) String() string {
	if s.Actor == (common.Address{}) {
		return fmt.Sprintf("%s@%d", s.Name, s.Position)
	}
	return fmt.Sprintf("%s@%s/%d.%d", s.Name, s.Actor.Hex(), s.Nonce, s.Sequence)
}
