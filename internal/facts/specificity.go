package facts

import (
	"strings"
	"unicode"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region specificity

// Applies reports whether facts of type t must meet the minimum score.
func (s SpecificityRules) Applies(t world.FactType) bool {
	for _, rt := range s.RequiredTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Specificity scores how concrete a fact is: +1 for a number, a named place,
// an artifact noun, two or more evidence items, and eight or more content
// words; -1 per banned vague term, at most -2.
func Specificity(f world.Fact, rules SpecificityRules) int {
	text := strings.ToLower(strings.Join(append([]string{f.Content, f.ArtifactLocator}, f.Evidence...), " "))
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}

	score := 0
	if strings.IndexFunc(f.Content+" "+strings.Join(f.Evidence, " "), unicode.IsDigit) >= 0 {
		score++
	}
	if containsAny(text, set, rules.Places) {
		score++
	}
	if containsAny(text, set, rules.Artifacts) {
		score++
	}
	if len(f.Evidence) >= 2 {
		score++
	}
	if len(strings.Fields(f.Content)) >= 8 {
		score++
	}

	penalty := 0
	for _, b := range rules.Banned {
		if set[strings.ToLower(b)] {
			penalty++
		}
	}
	if penalty > 2 {
		penalty = 2
	}
	return score - penalty
}

// containsAny matches single-word terms as tokens and multi-word terms as substrings.
func containsAny(text string, tokens map[string]bool, terms []string) bool {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(term, " ") {
			if strings.Contains(text, term) {
				return true
			}
			continue
		}
		if tokens[term] {
			return true
		}
	}
	return false
}

// #endregion specificity
