package pattern

import (
	"encoding/json"
	"time"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

// QueryKind selects the variant held by a Query.
type QueryKind string

const (
	KindDSL   QueryKind = "dsl"
	KindAgent QueryKind = "agent"
)

// Query is the claim a proof bundle is generated for: either a DSL pattern or
// an agent count pattern.
type Query struct {
	Kind  QueryKind
	DSL   *Pattern
	Agent *AgentPattern
}

// DSLQuery wraps a parsed pattern.
func DSLQuery(p *Pattern) Query { return Query{Kind: KindDSL, DSL: p} }

// AgentQuery wraps an agent pattern.
func AgentQuery(a AgentPattern) Query { return Query{Kind: KindAgent, Agent: &a} }

// Validate reports whether exactly the variant named by Kind is present.
func (q Query) Validate() error {
	switch q.Kind {
	case KindDSL:
		if q.DSL == nil || len(q.DSL.steps) == 0 {
			return invalid("dsl query without pattern")
		}
		return nil
	case KindAgent:
		if q.Agent == nil {
			return invalid("agent query without agent pattern")
		}
		return q.Agent.Validate()
	default:
		return invalid("unknown query kind %q", q.Kind)
	}
}

// MatchIndices dispatches to the held variant.
func (q Query) MatchIndices(symbols []symbol.Symbol, now time.Time) ([]int, bool) {
	switch q.Kind {
	case KindDSL:
		if q.DSL == nil {
			return nil, false
		}
		return q.DSL.MatchIndices(symbols)
	case KindAgent:
		return q.Agent.MatchIndices(symbols, now)
	default:
		return nil, false
	}
}

// MinCount is the fewest events a satisfying match holds.
func (q Query) MinCount() int {
	switch q.Kind {
	case KindDSL:
		if q.DSL != nil {
			return q.DSL.MinCount()
		}
	case KindAgent:
		if q.Agent != nil {
			return q.Agent.MinCount
		}
	}
	return 0
}

func (q Query) String() string {
	switch {
	case q.Kind == KindDSL && q.DSL != nil:
		return q.DSL.Source()
	case q.Kind == KindAgent && q.Agent != nil:
		return q.Agent.String()
	default:
		return string(q.Kind)
	}
}

type queryJSON struct {
	Kind    QueryKind     `json:"kind"`
	Pattern *Pattern      `json:"pattern,omitempty"`
	Agent   *AgentPattern `json:"agent,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (q Query) MarshalJSON() ([]byte, error) {
	out := queryJSON{Kind: q.Kind}
	switch q.Kind {
	case KindDSL:
		out.Pattern = q.DSL
	case KindAgent:
		out.Agent = q.Agent
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates a query.
func (q *Query) UnmarshalJSON(data []byte) error {
	var in queryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(CodePatternInvalid, err, "decode query")
	}
	out := Query{Kind: in.Kind, DSL: in.Pattern, Agent: in.Agent}
	if out.Kind == KindDSL {
		out.Agent = nil
	} else if out.Kind == KindAgent {
		out.DSL = nil
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*q = out
	return nil
}
