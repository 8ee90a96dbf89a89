// Package pattern implements the behavioral pattern language: a bounded
// parser for strings such as "Tf -> Sw{2,5} where value > 1 ether -> Tf", the
// greedy single-pass matcher that runs them over ordered symbols, and the
// agent-oriented count patterns used for reputation claims.
package pattern

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

const (
	// CodePatternInvalid covers syntax, length, step and quantifier violations.
	CodePatternInvalid xerrors.Code = "PATTERN_INVALID"
	// CodePatternTimeout marks a parse that ran past its work budget.
	CodePatternTimeout xerrors.Code = "PATTERN_TIMEOUT"
)

func init() {
	xerrors.Register(CodePatternInvalid, xerrors.Attributes{
		Message:  "invalid behavioral pattern",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePatternTimeout, xerrors.Attributes{
		Message:  "pattern parsing exceeded its budget",
		Severity: xerrors.SeverityWarning,
	})
}

// StepKind tags a pattern step.
type StepKind uint8

const (
	// StepExact matches the first qualifying symbol at or after the cursor.
	StepExact StepKind = iota + 1
	// StepAtLeast consumes a contiguous run of at least Min symbols.
	StepAtLeast
	// StepRange consumes a contiguous run of Min to Max symbols.
	StepRange
)

func (k StepKind) String() string {
	switch k {
	case StepExact:
		return "exact"
	case StepAtLeast:
		return "at_least"
	case StepRange:
		return "range"
	default:
		return fmt.Sprintf("step(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StepKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ConditionKind tags a step condition.
type ConditionKind uint8

const (
	CondNone ConditionKind = iota
	CondFromDeployer
	CondValueGreaterThan
)

// Condition is an extra predicate a symbol must satisfy to match a step.
type Condition struct {
	Kind      ConditionKind
	Threshold *uint256.Int
}

// FromDeployer returns the "from == deployer" condition.
func FromDeployer() Condition { return Condition{Kind: CondFromDeployer} }

// ValueGreaterThan returns the "value > threshold" condition.
func ValueGreaterThan(threshold *uint256.Int) Condition {
	return Condition{Kind: CondValueGreaterThan, Threshold: new(uint256.Int).Set(threshold)}
}

// Holds reports whether sym satisfies the condition.
func (c Condition) Holds(sym symbol.Symbol) bool {
	switch c.Kind {
	case CondNone:
		return true
	case CondFromDeployer:
		return sym.FromDeployer
	case CondValueGreaterThan:
		return c.Threshold != nil && sym.Value != nil && sym.Value.Gt(c.Threshold)
	default:
		return false
	}
}

func (c Condition) String() string {
	switch c.Kind {
	case CondFromDeployer:
		return "from == deployer"
	case CondValueGreaterThan:
		if c.Threshold == nil {
			return "value > 0"
		}
		return "value > " + c.Threshold.Dec()
	default:
		return ""
	}
}

// Step is one unit of a pattern.
type Step struct {
	Kind      StepKind
	Name      string
	Min       int
	Max       int // only meaningful for StepRange
	Condition Condition
}

// Exact returns an exact step.
func Exact(name string, cond Condition) Step {
	return Step{Kind: StepExact, Name: name, Min: 1, Max: 1, Condition: cond}
}

// AtLeast returns an unbounded quantified step.
func AtLeast(name string, min int, cond Condition) Step {
	return Step{Kind: StepAtLeast, Name: name, Min: min, Condition: cond}
}

// Range returns a bounded quantified step.
func Range(name string, min, max int, cond Condition) Step {
	return Step{Kind: StepRange, Name: name, Min: min, Max: max, Condition: cond}
}

func (s Step) accepts(sym symbol.Symbol) bool {
	return sym.Name == s.Name && s.Condition.Holds(sym)
}

func (s Step) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	switch s.Kind {
	case StepAtLeast:
		fmt.Fprintf(&b, "{%d,}", s.Min)
	case StepRange:
		if s.Min == s.Max {
			fmt.Fprintf(&b, "{%d}", s.Min)
		} else {
			fmt.Fprintf(&b, "{%d,%d}", s.Min, s.Max)
		}
	}
	if s.Condition.Kind != CondNone {
		b.WriteString(" where ")
		b.WriteString(s.Condition.String())
	}
	return b.String()
}

// MarshalJSON renders a step for API responses.
func (s Step) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind      StepKind `json:"kind"`
		Name      string   `json:"name"`
		Min       int      `json:"min"`
		Max       *int     `json:"max,omitempty"`
		Condition string   `json:"condition,omitempty"`
	}{Kind: s.Kind, Name: s.Name, Min: s.Min, Condition: s.Condition.String()}
	if s.Kind != StepAtLeast {
		max := s.Max
		out.Max = &max
	}
	return json.Marshal(out)
}

// Pattern is a parsed, immutable step sequence.
type Pattern struct {
	source string
	steps  []Step
}

// Steps returns a copy of the parsed steps.
func (p *Pattern) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Source returns the string the pattern was parsed from.
func (p *Pattern) Source() string { return p.source }

// String renders the steps in canonical DSL form.
func (p *Pattern) String() string {
	parts := make([]string, len(p.steps))
	for i, s := range p.steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}

// MinCount is the fewest symbols a successful match can contain.
func (p *Pattern) MinCount() int {
	total := 0
	for _, s := range p.steps {
		total += s.Min
	}
	return total
}

// MarshalJSON encodes the pattern as its source string.
func (p *Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.source)
}

// UnmarshalJSON re-parses the source string.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var source string
	if err := json.Unmarshal(data, &source); err != nil {
		return xerrors.Wrap(CodePatternInvalid, err, "pattern must be a string")
	}
	parsed, err := Parse(source)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}
