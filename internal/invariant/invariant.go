package invariant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region checker

// Checker enforces the hard narrative-level world rules.
type Checker struct {
	config   Config
	finality []*regexp.Regexp
}

// NewChecker compiles the finality patterns.
func NewChecker(config Config) (*Checker, error) {
	c := &Checker{config: config}
	for _, p := range config.FinalityPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile finality pattern %q: %w", p, err)
		}
		c.finality = append(c.finality, re)
	}
	return c, nil
}

// Check runs every rule against the candidate's narrative and metadata.
func (c *Checker) Check(cand world.Candidate) Result {
	text := cand.Artifact + " " + cand.Metadata.Bundle.Text()
	var violations []Violation

	// 1. No claims of final truth
	for _, re := range c.finality {
		if loc := re.FindString(text); loc != "" {
			violations = append(violations, Violation{Code: RuleFinality, Detail: fmt.Sprintf("finality claim %q", loc)})
			break
		}
	}

	// 2. At least two readings stay alive
	live := 0
	for _, v := range cand.Metadata.InterpretationStrength {
		if v > c.config.CollapseFloor {
			live++
		}
	}
	if live < c.config.MinLiveReadings {
		violations = append(violations, Violation{
			Code:   RuleCollapse,
			Detail: fmt.Sprintf("%d live interpretations, need %d", live, c.config.MinLiveReadings),
		})
	}

	// 3. No contradiction markers or duplicated claims
	lowered := strings.ToLower(text)
	for _, m := range c.config.ContradictionMarkers {
		if m != "" && strings.Contains(lowered, strings.ToLower(m)) {
			violations = append(violations, Violation{Code: RuleContradiction, Detail: fmt.Sprintf("marker %q", m)})
			break
		}
	}
	if dup := duplicate(cand.Metadata.Bundle.AlternativeCompatibility); dup != "" {
		violations = append(violations, Violation{Code: RuleContradiction, Detail: fmt.Sprintf("duplicated claim %q", dup)})
	}

	return Result{Passed: len(violations) == 0, Violations: violations}
}

// #endregion checker

// #region helpers

func duplicate(claims []string) string {
	seen := make(map[string]bool, len(claims))
	for _, c := range claims {
		k := strings.ToLower(strings.TrimSpace(c))
		if k == "" {
			continue
		}
		if seen[k] {
			return c
		}
		seen[k] = true
	}
	return ""
}

// #endregion helpers
