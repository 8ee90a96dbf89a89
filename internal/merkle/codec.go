package merkle

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

// CodeMalformedProof marks bytes or JSON that do not decode to a proof.
const CodeMalformedProof xerrors.Code = "MALFORMED_PROOF"

// MaxPathLength bounds the number of siblings a decoded proof may carry.
const MaxPathLength = 64

func init() {
	xerrors.Register(CodeMalformedProof, xerrors.Attributes{
		Message:  "malformed inclusion proof",
		Severity: xerrors.SeverityInfo,
	})
}

func malformed(format string, args ...any) error {
	return xerrors.Newf(CodeMalformedProof, format, args...)
}

// MarshalBinary encodes the proof as:
//
//	scheme(1) | nameLen(2) | name | key | leaf(32) | n(2) | path(n*32) |
//	directions(ceil(n/8), LSB first) | root(32)
//
// The key is position(4) for block proofs and actor(20) | nonce(8) | seq(4)
// for causal proofs. Integers are big-endian.
func (p *Proof) MarshalBinary() ([]byte, error) {
	switch {
	case !p.Scheme.Valid():
		return nil, malformed("unknown scheme %d", p.Scheme)
	case p.Name == "" || len(p.Name) > symbol.MaxNameLength:
		return nil, malformed("symbol name length %d out of range", len(p.Name))
	case len(p.Path) != len(p.Directions):
		return nil, malformed("path has %d siblings but %d directions", len(p.Path), len(p.Directions))
	case len(p.Path) > MaxPathLength:
		return nil, malformed("path length %d exceeds %d", len(p.Path), MaxPathLength)
	}

	n := len(p.Path)
	buf := make([]byte, 0, 1+2+len(p.Name)+32+32+2+n*32+(n+7)/8+32)
	buf = append(buf, byte(p.Scheme))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Name)))
	buf = append(buf, p.Name...)
	if p.Scheme == SchemeBlock {
		buf = binary.BigEndian.AppendUint32(buf, p.Key.Position)
	} else {
		buf = append(buf, p.Key.Actor[:]...)
		buf = binary.BigEndian.AppendUint64(buf, p.Key.Nonce)
		buf = binary.BigEndian.AppendUint32(buf, p.Key.Sequence)
	}
	buf = append(buf, p.LeafHash[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	for _, h := range p.Path {
		buf = append(buf, h[:]...)
	}
	bits := make([]byte, (n+7)/8)
	for i, right := range p.Directions {
		if right {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	buf = append(buf, bits...)
	buf = append(buf, p.Root[:]...)
	return buf, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, malformed("truncated proof: need %d bytes for %s at offset %d, have %d",
			n, what, r.off, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) hash(what string) (common.Hash, error) {
	b, err := r.take(common.HashLength, what)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}

// UnmarshalBinary decodes a proof produced by MarshalBinary. Truncated input,
// trailing bytes, unknown schemes, invalid names and non-zero padding bits
// are rejected with CodeMalformedProof.
func (p *Proof) UnmarshalBinary(data []byte) error {
	r := &reader{data: data}
	var out Proof

	b, err := r.take(1, "scheme")
	if err != nil {
		return err
	}
	out.Scheme = Scheme(b[0])
	if !out.Scheme.Valid() {
		return malformed("unknown scheme %d", b[0])
	}

	if b, err = r.take(2, "name length"); err != nil {
		return err
	}
	nameLen := int(binary.BigEndian.Uint16(b))
	if nameLen == 0 || nameLen > symbol.MaxNameLength {
		return malformed("symbol name length %d out of range", nameLen)
	}
	if b, err = r.take(nameLen, "name"); err != nil {
		return err
	}
	out.Name = string(b)
	if err := symbol.ValidateName(out.Name); err != nil {
		return xerrors.Wrap(CodeMalformedProof, err, "invalid symbol name")
	}

	if out.Scheme == SchemeBlock {
		if b, err = r.take(4, "position"); err != nil {
			return err
		}
		out.Key.Position = binary.BigEndian.Uint32(b)
	} else {
		if b, err = r.take(common.AddressLength+8+4, "causal key"); err != nil {
			return err
		}
		out.Key.Actor = common.BytesToAddress(b[:common.AddressLength])
		out.Key.Nonce = binary.BigEndian.Uint64(b[common.AddressLength:])
		out.Key.Sequence = binary.BigEndian.Uint32(b[common.AddressLength+8:])
	}

	if out.LeafHash, err = r.hash("leaf hash"); err != nil {
		return err
	}

	if b, err = r.take(2, "path length"); err != nil {
		return err
	}
	n := int(binary.BigEndian.Uint16(b))
	if n > MaxPathLength {
		return malformed("path length %d exceeds %d", n, MaxPathLength)
	}
	if n > 0 {
		out.Path = make([]common.Hash, n)
		for i := range out.Path {
			if out.Path[i], err = r.hash("path"); err != nil {
				return err
			}
		}
	}

	if b, err = r.take((n+7)/8, "directions"); err != nil {
		return err
	}
	if n > 0 {
		out.Directions = make([]bool, n)
		for i := range out.Directions {
			out.Directions[i] = b[i/8]&(1<<(i%8)) != 0
		}
		if rem := n % 8; rem != 0 && b[len(b)-1]>>rem != 0 {
			return malformed("non-zero padding in direction bits")
		}
	}

	if out.Root, err = r.hash("root"); err != nil {
		return err
	}
	if r.off != len(data) {
		return malformed("%d trailing bytes after proof", len(data)-r.off)
	}

	*p = out
	return nil
}

// Decode parses a binary proof.
func Decode(data []byte) (*Proof, error) {
	p := new(Proof)
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

type proofJSON struct {
	Scheme     Scheme          `json:"scheme"`
	Name       string          `json:"name"`
	Position   uint32          `json:"position"`
	Actor      *common.Address `json:"actor,omitempty"`
	Nonce      uint64          `json:"nonce,omitempty"`
	Sequence   uint32          `json:"sequence,omitempty"`
	Event      *symbol.Symbol  `json:"event,omitempty"`
	LeafHash   common.Hash     `json:"leaf_hash"`
	Path       []common.Hash   `json:"path"`
	Directions []bool          `json:"directions"`
	Root       common.Hash     `json:"root"`
}

// MarshalJSON implements json.Marshaler.
func (p Proof) MarshalJSON() ([]byte, error) {
	out := proofJSON{
		Scheme:     p.Scheme,
		Name:       p.Name,
		Position:   p.Key.Position,
		Event:      p.Event,
		LeafHash:   p.LeafHash,
		Path:       p.Path,
		Directions: p.Directions,
		Root:       p.Root,
	}
	if out.Path == nil {
		out.Path = []common.Hash{}
	}
	if out.Directions == nil {
		out.Directions = []bool{}
	}
	if p.Scheme == SchemeCausal {
		actor := p.Key.Actor
		out.Actor = &actor
		out.Nonce = p.Key.Nonce
		out.Sequence = p.Key.Sequence
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var in proofJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return xerrors.Wrap(CodeMalformedProof, err, "decode proof")
	}
	if len(in.Path) != len(in.Directions) {
		return malformed("path has %d siblings but %d directions", len(in.Path), len(in.Directions))
	}
	if len(in.Path) > MaxPathLength {
		return malformed("path length %d exceeds %d", len(in.Path), MaxPathLength)
	}
	out := Proof{
		Scheme:     in.Scheme,
		Name:       in.Name,
		Key:        Key{Position: in.Position, Nonce: in.Nonce, Sequence: in.Sequence},
		Event:      in.Event,
		LeafHash:   in.LeafHash,
		Path:       in.Path,
		Directions: in.Directions,
		Root:       in.Root,
	}
	if in.Actor != nil {
		out.Key.Actor = *in.Actor
	}
	if in.Event != nil && in.Event.Name != in.Name {
		return malformed("event %q does not match proof name %q", in.Event.Name, in.Name)
	}
	if len(out.Path) == 0 {
		out.Path, out.Directions = nil, nil
	}
	*p = out
	return nil
}
