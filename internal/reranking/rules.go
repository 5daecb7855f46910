package reranking

import (
	"strings"

	"github.com/kalambet/scout/internal/retrieval"
)

// Rule adjusts a relevance score from the lower-cased query and one document.
// Rules must be pure.
type Rule interface {
	Name() string
	Apply(query string, doc retrieval.Document, score float64) float64
}

// DefaultRules returns the experience rule followed by the New York rule.
func DefaultRules() []Rule {
	return []Rule{
		ExperienceRule{},
		LocationRule{Place: "new york", Boost: 1.5, Penalty: 0.5},
	}
}

// ExperienceRule boosts by 1% per year in business when the query asks about
// years of experience.
type ExperienceRule struct{}

func (ExperienceRule) Name() string { return "experience" }

func (ExperienceRule) Apply(query string, doc retrieval.Document, score float64) float64 {
	if !strings.Contains(query, "years") || !strings.Contains(query, "experience") {
		return score
	}
	years, ok := doc.Contractor.Years()
	if !ok {
		return score
	}
	return score * (1 + years/100)
}

// LocationRule applies when the query names Place: addresses containing it
// are multiplied by Boost, all others by Penalty.
type LocationRule struct {
	Place   string
	Boost   float64
	Penalty float64
}

func (l LocationRule) Name() string { return "location:" + l.Place }

func (l LocationRule) Apply(query string, doc retrieval.Document, score float64) float64 {
	if !strings.Contains(query, l.Place) {
		return score
	}
	if strings.Contains(strings.ToLower(doc.Contractor.Address), l.Place) {
		return score * l.Boost
	}
	return score * l.Penalty
}
