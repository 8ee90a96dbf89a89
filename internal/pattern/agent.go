package pattern

import (
	"fmt"
	"time"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

// AgentPattern claims that an agent produced at least MinCount events of one
// type, optionally filtered by result and restricted to a trailing window.
type AgentPattern struct {
	EventType    string `json:"event_type"`
	ResultFilter string `json:"result_filter,omitempty"`
	MinCount     int    `json:"min_count"`
	MaxCount     int    `json:"max_count,omitempty"`
	// TimeWindow is in seconds; zero disables the window.
	TimeWindow uint64 `json:"time_window,omitempty"`
}

// Validate checks the pattern is well formed.
func (a *AgentPattern) Validate() error {
	if err := symbol.ValidateName(a.EventType); err != nil {
		return xerrors.Wrap(CodePatternInvalid, err, "invalid event_type")
	}
	if a.ResultFilter != "" {
		probe := symbol.Symbol{Name: a.EventType, Result: a.ResultFilter}
		if err := probe.Validate(); err != nil {
			return xerrors.Wrap(CodePatternInvalid, err, "invalid result_filter")
		}
	}
	if a.MinCount < 0 || a.MaxCount < 0 {
		return invalid("min_count and max_count must not be negative")
	}
	if a.MaxCount > 0 && a.MaxCount < a.MinCount {
		return invalid("Invalid count range {%d,%d}: max must be >= min", a.MinCount, a.MaxCount)
	}
	return nil
}

// MatchIndices filters symbols by name, result and window. It fails when
// fewer than MinCount remain and truncates to the first MaxCount otherwise.
func (a *AgentPattern) MatchIndices(symbols []symbol.Symbol, now time.Time) ([]int, bool) {
	if a == nil {
		return nil, false
	}
	var cutoff uint64
	if a.TimeWindow > 0 {
		if ts := now.Unix(); ts > 0 && uint64(ts) > a.TimeWindow {
			cutoff = uint64(ts) - a.TimeWindow
		}
	}
	var matched []int
	for i, s := range symbols {
		if s.Name != a.EventType {
			continue
		}
		if a.ResultFilter != "" && s.Result != a.ResultFilter {
			continue
		}
		if a.TimeWindow > 0 && s.Timestamp < cutoff {
			continue
		}
		matched = append(matched, i)
	}
	if len(matched) < a.MinCount {
		return nil, false
	}
	if a.MaxCount > 0 && len(matched) > a.MaxCount {
		matched = matched[:a.MaxCount]
	}
	return matched, true
}

func (a *AgentPattern) String() string {
	s := fmt.Sprintf("%s{%d,", a.EventType, a.MinCount)
	if a.MaxCount > 0 {
		s += fmt.Sprint(a.MaxCount)
	}
	s += "}"
	if a.ResultFilter != "" {
		s += " result=" + a.ResultFilter
	}
	if a.TimeWindow > 0 {
		s += fmt.Sprintf(" within %ds", a.TimeWindow)
	}
	return s
}
