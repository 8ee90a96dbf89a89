package pattern

import "Behavior-Chain/internal/symbol"

// MatchIndices runs the greedy matcher over symbols and returns the indices
// of the matched symbols in order.
//
// Exact steps take the first qualifying symbol at or after the cursor and may
// skip others. Quantified steps consume a contiguous run starting exactly at
// the cursor, stopping at the first non-qualifying symbol or at Max. There is
// no backtracking.
func (p *Pattern) MatchIndices(symbols []symbol.Symbol) ([]int, bool) {
	if p == nil || len(p.steps) == 0 {
		return nil, false
	}
	matched := make([]int, 0, p.MinCount())
	cursor := 0
	for _, step := range p.steps {
		switch step.Kind {
		case StepExact:
			found := -1
			for i := cursor; i < len(symbols); i++ {
				if step.accepts(symbols[i]) {
					found = i
					break
				}
			}
			if found < 0 {
				return nil, false
			}
			matched = append(matched, found)
			cursor = found + 1
		case StepAtLeast, StepRange:
			count := 0
			for cursor < len(symbols) && step.accepts(symbols[cursor]) {
				if step.Kind == StepRange && count == step.Max {
					break
				}
				matched = append(matched, cursor)
				cursor++
				count++
			}
			if count < step.Min {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return matched, true
}

// Match returns the matched symbols, or false when the pattern does not hold.
func (p *Pattern) Match(symbols []symbol.Symbol) ([]symbol.Symbol, bool) {
	indices, ok := p.MatchIndices(symbols)
	if !ok {
		return nil, false
	}
	out := make([]symbol.Symbol, len(indices))
	for i, idx := range indices {
		out[i] = symbols[idx]
	}
	return out, true
}

// Matches parses source and reports whether it matches symbols. Parse
// errors yield false. It is deterministic and does no I/O.
func Matches(symbols []symbol.Symbol, source string) bool {
	p, err := Parse(source)
	if err != nil {
		return false
	}
	_, ok := p.MatchIndices(symbols)
	return ok
}
