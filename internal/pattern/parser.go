package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

// Parser limits.
const (
	MaxPatternLength = 500
	MaxSteps         = 10
	MaxQuantifier    = 1000
	DefaultBudget    = 10 * time.Millisecond

	// Deterministic work cap, counted in scanned bytes and steps.
	maxParseWork = 4 * MaxPatternLength
)

// Named presets bypass the grammar.
var presets = map[string][]Step{
	"Sandwich": {Exact("Tf", Condition{}), Exact("Sw", Condition{}), Exact("Tf", Condition{})},
	"Frontrun": {Exact("Tf", Condition{}), Exact("Sw", Condition{})},
	"Backrun":  {Exact("Sw", Condition{}), Exact("Tf", Condition{})},
}

// Presets lists the named preset patterns.
func Presets() []string {
	return []string{"Backrun", "Frontrun", "Sandwich"}
}

// Parser parses pattern strings under a time and work budget.
type Parser struct {
	clock  func() time.Time
	budget time.Duration
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock replaces the wall clock used for the parse budget.
func WithClock(clock func() time.Time) ParserOption {
	return func(p *Parser) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithBudget overrides the wall-clock parse budget.
func WithBudget(d time.Duration) ParserOption {
	return func(p *Parser) {
		if d > 0 {
			p.budget = d
		}
	}
}

// NewParser builds a parser with the default 10ms budget.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{clock: time.Now, budget: DefaultBudget}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

var defaultParser = NewParser()

// Parse parses input with the default parser.
func Parse(input string) (*Pattern, error) {
	return defaultParser.Parse(input)
}

// MustParse is Parse for static patterns; it panics on error.
func MustParse(input string) *Pattern {
	p, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return p
}

func invalid(format string, args ...any) error {
	return xerrors.Newf(CodePatternInvalid, format, args...)
}

type scan struct {
	parser *Parser
	start  time.Time
	work   int
}

func (s *scan) tick(n int) error {
	s.work += n
	if s.work > maxParseWork {
		return xerrors.New(CodePatternTimeout, fmt.Sprintf("pattern parsing exceeded %d work units", maxParseWork))
	}
	if elapsed := s.parser.clock().Sub(s.start); elapsed > s.parser.budget {
		return xerrors.New(CodePatternTimeout,
			fmt.Sprintf("pattern parsing exceeded %s budget (took %s)", s.parser.budget, elapsed))
	}
	return nil
}

// Parse turns input into a Pattern. Input longer than MaxPatternLength bytes
// is rejected before scanning.
func (p *Parser) Parse(input string) (*Pattern, error) {
	if len(input) > MaxPatternLength {
		return nil, invalid("Pattern too long: %d bytes exceeds limit of %d", len(input), MaxPatternLength)
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, invalid("Empty pattern")
	}
	if steps, ok := presets[trimmed]; ok {
		return &Pattern{source: trimmed, steps: append([]Step(nil), steps...)}, nil
	}

	s := &scan{parser: p, start: p.clock()}
	segments := strings.Split(trimmed, "->")
	steps := make([]Step, 0, min(len(segments), MaxSteps))
	for i, segment := range segments {
		if err := s.tick(1); err != nil {
			return nil, err
		}
		if i >= MaxSteps {
			return nil, invalid("Pattern too complex: more than %d steps", MaxSteps)
		}
		step, err := parseStep(s, strings.TrimSpace(segment), i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return &Pattern{source: trimmed, steps: steps}, nil
}

func parseStep(s *scan, segment string, index int) (Step, error) {
	if segment == "" {
		return Step{}, invalid("Empty pattern segment at step %d", index+1)
	}
	if err := s.tick(len(segment)); err != nil {
		return Step{}, err
	}

	// The condition starts at the first standalone "where"; whitespace around
	// the name and inside the quantifier is insignificant.
	fields := strings.Fields(segment)
	where := len(fields)
	for j, f := range fields {
		if f == "where" {
			where = j
			break
		}
	}
	head := strings.Join(fields[:where], " ")

	var cond Condition
	if where < len(fields) {
		c, err := parseCondition(fields[where+1:])
		if err != nil {
			return Step{}, err
		}
		cond = c
	}

	nameEnd := strings.IndexAny(head, "{}")
	if nameEnd < 0 {
		nameEnd = len(head)
	}
	name := strings.TrimSpace(head[:nameEnd])
	if k := strings.IndexByte(name, ' '); k >= 0 {
		return Step{}, invalid("Unexpected %q after step %q", name[k+1:], name[:k])
	}
	for j := 0; j < len(name); j++ {
		if !symbol.IsNameByte(name[j]) {
			return Step{}, invalid("Invalid symbol name %q: unexpected character %q", name, name[j])
		}
	}
	if nameEnd < len(head) && head[nameEnd] == '}' {
		return Step{}, invalid("Unmatched '}' in %q", segment)
	}
	if err := symbol.ValidateName(name); err != nil {
		return Step{}, invalid("Invalid symbol name %q", name)
	}
	if nameEnd == len(head) {
		return Exact(name, cond), nil
	}

	quant := head[nameEnd:]
	closing := strings.IndexByte(quant, '}')
	if closing < 0 {
		return Step{}, invalid("Unclosed quantifier in %q: expected '}'", segment)
	}
	body := quant[1:closing]
	trailing := strings.TrimSpace(quant[closing+1:])
	if strings.IndexByte(body, '{') >= 0 || strings.HasPrefix(trailing, "{") {
		return Step{}, invalid("Nested quantifiers are not supported in %q", segment)
	}
	if strings.IndexByte(trailing, '}') >= 0 {
		return Step{}, invalid("Unmatched '}' in %q", segment)
	}
	if trailing != "" {
		return Step{}, invalid("Unexpected trailing characters %q after quantifier in %q", trailing, segment)
	}
	return parseQuantifier(name, body, cond)
}

func parseQuantifier(name, body string, cond Condition) (Step, error) {
	minText, maxText, ranged := strings.Cut(body, ",")
	lo, err := parseBound(minText, "min")
	if err != nil {
		return Step{}, err
	}
	if !ranged {
		return Range(name, lo, lo, cond), nil
	}
	if strings.TrimSpace(maxText) == "" {
		return AtLeast(name, lo, cond), nil
	}
	hi, err := parseBound(maxText, "max")
	if err != nil {
		return Step{}, err
	}
	if hi < lo {
		return Step{}, invalid("Invalid range quantifier {%d,%d}: max must be >= min", lo, hi)
	}
	return Range(name, lo, hi, cond), nil
}

func parseBound(text, which string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" || !isDigits(text) {
		return 0, invalid("Invalid %s quantifier %q", which, text)
	}
	if digits := strings.TrimLeft(text, "0"); len(digits) > len(strconv.Itoa(MaxQuantifier)) {
		return 0, invalid("Quantifier %s exceeds limit of %d", text, MaxQuantifier)
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, invalid("Invalid %s quantifier %q", which, text)
	}
	if n > MaxQuantifier {
		return 0, invalid("Quantifier %d exceeds limit of %d", n, MaxQuantifier)
	}
	return n, nil
}

func parseCondition(tokens []string) (Condition, error) {
	if len(tokens) == 0 {
		return Condition{}, invalid("Missing condition after 'where'")
	}
	switch {
	case len(tokens) == 3 && tokens[0] == "from" && tokens[1] == "==" && tokens[2] == "deployer":
		return FromDeployer(), nil
	case len(tokens) >= 3 && tokens[0] == "value" && tokens[1] == ">":
		amount, err := ParseAmount(strings.Join(tokens[2:], " "))
		if err != nil {
			return Condition{}, err
		}
		return ValueGreaterThan(amount), nil
	default:
		return Condition{}, invalid("Unsupported condition %q: expected 'from == deployer' or 'value > <amount>'",
			strings.Join(tokens, " "))
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
