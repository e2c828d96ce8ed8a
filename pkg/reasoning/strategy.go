package reasoning

import (
	"fmt"
	"strings"
)

// Strategy tags the kind of inference a step performs.
type Strategy string

const (
	Deductive   Strategy = "deductive"
	Inductive   Strategy = "inductive"
	Abductive   Strategy = "abductive"
	Analogical  Strategy = "analogical"
	Causal      Strategy = "causal"
	Algorithmic Strategy = "algorithmic"
)

// Strategies lists every strategy in canonical order.
var Strategies = []Strategy{Deductive, Inductive, Abductive, Analogical, Causal, Algorithmic}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStrategy normalizes and validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

var strategyCues = []struct {
	strategy Strategy
	cues     []string
}{
	{Deductive, []string{"therefore", "thus", "conclude", "deduce"}},
	{Inductive, []string{"pattern", "observe", "notice", "generalize"}},
	{Abductive, []string{"likely", "probably", "best explanation", "hypothesis"}},
	{Analogical, []string{"similar to", "like", "analogy", "comparable"}},
	{Causal, []string{"because", "causes", "leads to", "results in"}},
	{Algorithmic, []string{"step", "next", "then", "procedure", "algorithm"}},
}

// InferStrategy classifies step text by keyword cues. Text with no cue is
// treated as deductive.
func InferStrategy(content string) Strategy {
	lower := strings.ToLower(content)
	for _, sc := range strategyCues {
		for _, cue := range sc.cues {
			if strings.Contains(lower, cue) {
				return sc.strategy
			}
		}
	}
	return Deductive
}
