package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// Keywords are the per-tier substring lists used to classify messages.
type Keywords = domain.Keywords

// MergeKeywords replaces each tier of base that is set in overrides.
func MergeKeywords(base, overrides Keywords) Keywords {
	merged := base
	if overrides.Red != nil {
		merged.Red = overrides.Red
	}
	if overrides.Yellow != nil {
		merged.Yellow = overrides.Yellow
	}
	if overrides.Green != nil {
		merged.Green = overrides.Green
	}
	return merged
}

// UnmatchedTier is the result for text that matches no keyword list.
// It is deliberately Yellow, not Green.
const UnmatchedTier = domain.Yellow

// Classifier assigns a tier to free text by keyword.
type Classifier struct {
	lists [3]struct {
		tier     domain.Tier
		keywords []string
	}
}

// NewClassifier creates a classifier. Keywords are lower-cased and empty
// entries dropped.
func NewClassifier(kw Keywords) *Classifier {
	c := &Classifier{}
	c.lists[0].tier, c.lists[0].keywords = domain.Red, normalizeKeywords(kw.Red)
	c.lists[1].tier, c.lists[1].keywords = domain.Yellow, normalizeKeywords(kw.Yellow)
	c.lists[2].tier, c.lists[2].keywords = domain.Green, normalizeKeywords(kw.Green)
	return c
}

// NewDefaultClassifier creates a classifier with the built-in keyword lists.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultKeywords())
}

// Classify tests the lists in priority order Red, Yellow, Green and returns the
// tier of the first list with a keyword contained in text.
func (c *Classifier) Classify(text string) domain.Tier {
	lower := strings.ToLower(text)
	for _, l := range c.lists {
		for _, kw := range l.keywords {
			if strings.Contains(lower, kw) {
				return l.tier
			}
		}
	}
	return UnmatchedTier
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
