package pattern

import (
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	xerrors "Behavior-Chain/internal/errors"
)

func TestParsePresets(t *testing.T) {
	p, err := Parse("Sandwich")
	if err != nil {
		t.Fatalf("parse sandwich: %v", err)
	}
	steps := p.Steps()
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, want := range []string{"Tf", "Sw", "Tf"} {
		if steps[i].Kind != StepExact || steps[i].Name != want {
			t.Fatalf("step %d: expected exact %s, got %+v", i, want, steps[i])
		}
	}
	for _, name := range Presets() {
		if _, err := Parse(name); err != nil {
			t.Fatalf("preset %s: %v", name, err)
		}
	}
}

func TestParseQuantifiers(t *testing.T) {
	cases := []struct {
		input string
		kind  StepKind
		min   int
		max   int
	}{
		{"Tf", StepExact, 1, 1},
		{"Tf{3}", StepRange, 3, 3},
		{"Tf{2,}", StepAtLeast, 2, 0},
		{"Tf{2,5}", StepRange, 2, 5},
		{"Tf{1000}", StepRange, 1000, 1000},
		{"Tf{0,1000}", StepRange, 0, 1000},
		{"Tf{01000}", StepRange, 1000, 1000},
		{"Sw{1, 3}", StepRange, 1, 3},
		{"Sw{ 2 }", StepRange, 2, 2},
		{"Sw {2}", StepRange, 2, 2},
		{"Sw{ 2 , }", StepAtLeast, 2, 0},
		{" Sw {1,3} where from == deployer", StepRange, 1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			p, err := Parse(tc.input)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			step := p.Steps()[0]
			if step.Kind != tc.kind || step.Min != tc.min || step.Max != tc.max {
				t.Fatalf("unexpected step %+v", step)
			}
		})
	}
}

func TestParseConditions(t *testing.T) {
	p, err := Parse("Tf -> Sw{2,5} where value > 1.5 ether -> Tf where from == deployer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	steps := p.Steps()
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[1].Condition.Kind != CondValueGreaterThan ||
		!steps[1].Condition.Threshold.Eq(uint256.MustFromDecimal("1500000000000000000")) {
		t.Fatalf("unexpected value condition: %+v", steps[1].Condition)
	}
	if steps[2].Condition.Kind != CondFromDeployer {
		t.Fatalf("unexpected deployer condition: %+v", steps[2].Condition)
	}
	if got := p.String(); got != "Tf -> Sw{2,5} where value > 1500000000000000000 -> Tf where from == deployer" {
		t.Fatalf("unexpected canonical form: %s", got)
	}
}

func TestParseErrorMessages(t *testing.T) {
	cases := []struct {
		input string
		want  []string
	}{
		{"Tf{2", []string{"Unclosed quantifier", "expected '}'"}},
		{"Tf}", []string{"Unmatched '}'"}},
		{"Tf -> -> Sw", []string{"Empty pattern segment"}},
		{"Tf$", []string{"Invalid symbol name"}},
		{"Tf{5,2}", []string{"must be >= min"}},
		{strings.Repeat("A", 501), []string{"too long"}},
		{"Tf -> Sw -> Tf -> Sw -> Tf -> Sw -> Tf -> Sw -> Tf -> Sw -> Tf", []string{"too complex"}},
		{"Tf{2}{3}", []string{"Nested quantifiers"}},
		{"Tf{2}extra", []string{"trailing characters"}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			_, err := Parse(tc.input)
			if err == nil {
				t.Fatalf("expected error")
			}
			if xerrors.CodeOf(err) != CodePatternInvalid {
				t.Fatalf("expected %s, got %s", CodePatternInvalid, xerrors.CodeOf(err))
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Fatalf("error %q does not contain %q", err.Error(), want)
				}
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"Tf{1001}",
		"Tf{0,1001}",
		"Tf{1001,1001}",
		"Tf{99999999999999999999}",
		"Tf{01001}",
		"Tf{1 0}",
		"Tf {2} extra",
		"Tf{2}{,5}",
		"Tf{2}{3,5}",
		"Tf{,5}",
		"Tf{a}",
		"{2}",
		"Tf where",
		"Tf where unknown == condition",
		"Tf where value > not_a_number",
		"Tf where value > 1 ether extra",
		"Tf extra",
		"Tf -> \x00 -> \U0001F480 -> \u202eSw",
		"Tf ->",
		strings.Repeat("LongSymbolName -> ", 100) + "Tf",
	}
	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestParseStepLimitBoundary(t *testing.T) {
	ten := "Tf -> Sw -> Tf -> Sw -> Tf -> Sw -> Tf -> Sw -> Tf -> Sw"
	if _, err := Parse(ten); err != nil {
		t.Fatalf("10 steps must parse: %v", err)
	}
}

func TestParseBudgetExceeded(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(20 * time.Millisecond)
		return now
	}
	parser := NewParser(WithClock(clock))
	_, err := parser.Parse("Tf -> Sw")
	if err == nil {
		t.Fatalf("expected budget violation")
	}
	if xerrors.CodeOf(err) != CodePatternTimeout {
		t.Fatalf("expected %s, got %v", CodePatternTimeout, err)
	}

	relaxed := NewParser(WithClock(clock), WithBudget(time.Second))
	if _, err := relaxed.Parse("Tf -> Sw"); err != nil {
		t.Fatalf("relaxed parser: %v", err)
	}
}

func TestParseIsFast(t *testing.T) {
	start := time.Now()
	for i := 0; i < 100; i++ {
		if _, err := Parse("Tf{1,5} -> Sw{1,5} -> Dep{1,5}"); err != nil {
			t.Fatalf("parse: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("parsing took %s", elapsed)
	}
}
