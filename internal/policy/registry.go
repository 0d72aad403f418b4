package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// ReasonNoAI is the reason given for a Green navigation.
const ReasonNoAI = "No AI usage detected"

// Evaluation is the outcome of matching one normalized URL.
type Evaluation struct {
	Tier     domain.Tier
	Reason   string
	AITool   domain.Rule
	Platform domain.Rule
	IsAI     bool
	// IsPlatform is only set when IsAI is; a platform alone stays Green.
	IsPlatform bool
}

// Registry holds the compiled site rules of every category.
// A Registry is immutable; reconfiguration builds a new one.
type Registry struct {
	rules map[domain.Category][]CompiledRule
}

// NewRegistry creates a registry with the built-in rules.
func NewRegistry() *Registry {
	return NewRegistryWithOverrides(domain.RuleOverrides{})
}

// NewRegistryWithOverrides creates a registry from the built-in rules merged
// with user overrides.
func NewRegistryWithOverrides(overrides domain.RuleOverrides) *Registry {
	return NewRegistryWithRules(MergeRules(BuiltinRules(), overrides))
}

// NewRegistryWithRules creates a registry from exactly the given rules (for testing).
func NewRegistryWithRules(rules domain.RuleOverrides) *Registry {
	r := &Registry{rules: make(map[domain.Category][]CompiledRule)}
	r.register(domain.CategoryAIWebsite, domain.Yellow, rules.AIWebsites)
	r.register(domain.CategoryAcademicPlatform, domain.Green, rules.AcademicPlatforms)
	return r
}

func (r *Registry) register(cat domain.Category, tier domain.Tier, rules []domain.Rule) {
	tagged := make([]domain.Rule, len(rules))
	for i, rule := range rules {
		rule.Category = cat
		rule.Tier = tier
		tagged[i] = rule
	}
	r.rules[cat] = CompileAll(tagged)
}

// BuiltinRules returns the rules shipped with the binary.
func BuiltinRules() domain.RuleOverrides {
	return domain.RuleOverrides{
		AIWebsites:        DefaultAIWebsites(),
		AcademicPlatforms: DefaultAcademicPlatforms(),
	}
}

// MergeRules merges overrides into base at the category level: a category
// present in overrides replaces the base list for that category.
func MergeRules(base, overrides domain.RuleOverrides) domain.RuleOverrides {
	merged := base
	if overrides.AIWebsites != nil {
		merged.AIWebsites = overrides.AIWebsites
	}
	if overrides.AcademicPlatforms != nil {
		merged.AcademicPlatforms = overrides.AcademicPlatforms
	}
	return merged
}

// Rules returns the compiled rules of a category in match order.
func (r *Registry) Rules(cat domain.Category) []CompiledRule {
	return r.rules[cat]
}

// MatchAIWebsite returns the first AI tool rule matching url.
func (r *Registry) MatchAIWebsite(url string) (domain.Rule, bool) {
	return ClassifyURL(url, r.rules[domain.CategoryAIWebsite])
}

// MatchAcademicPlatform returns the first academic platform rule matching url.
func (r *Registry) MatchAcademicPlatform(url string) (domain.Rule, bool) {
	return ClassifyURL(url, r.rules[domain.CategoryAcademicPlatform])
}

// List returns the configured rules of every category (for display).
func (r *Registry) List() domain.RuleOverrides {
	out := domain.RuleOverrides{}
	for _, c := range r.rules[domain.CategoryAIWebsite] {
		out.AIWebsites = append(out.AIWebsites, c.Rule)
	}
	for _, c := range r.rules[domain.CategoryAcademicPlatform] {
		out.AcademicPlatforms = append(out.AcademicPlatforms, c.Rule)
	}
	return out
}

// Evaluate classifies a normalized URL: an AI tool on an academic platform is
// Red, an AI tool elsewhere is Yellow, anything else is Green.
func (r *Registry) Evaluate(url string) Evaluation {
	ai, isAI := r.MatchAIWebsite(url)
	if !isAI {
		return Evaluation{Tier: domain.Green, Reason: ReasonNoAI}
	}
	ev := Evaluation{
		Tier:   domain.Yellow,
		Reason: fmt.Sprintf("Using %s", ai.Name),
		AITool: ai,
		IsAI:   true,
	}
	if platform, ok := r.MatchAcademicPlatform(url); ok {
		ev.Tier = domain.Red
		ev.Reason = fmt.Sprintf("Using %s on %s", ai.Name, platform.Name)
		ev.Platform = platform
		ev.IsPlatform = true
	}
	return ev
}
