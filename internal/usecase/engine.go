// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/policy"
)

const (
	// ActivityLogCap is the number of entries kept in the activity log.
	ActivityLogCap = 100
	// DefaultActivityLimit is how many entries GetActivityLog returns by default.
	DefaultActivityLimit = 50

	messagePreviewLen = 50
)

// Reasons attached to status evaluations.
const (
	ReasonNoAI         = policy.ReasonNoAI
	ReasonGradingPage  = "AI usage detected on grading/submission page"
	defaultMessageSite = "AI Chat"
)

// EngineConfig is the file-level configuration the engine starts from.
// Persisted overrides are applied on top in Start.
type EngineConfig struct {
	Policy   domain.PolicyConfig
	Rules    domain.RuleOverrides
	Keywords policy.Keywords
	// GradingKeywords nil means the built-in list.
	GradingKeywords []string
}

type contextState struct {
	url       string
	status    domain.ContextStatus
	hasStatus bool
}

// Engine evaluates navigation and message events against policy and drives the
// block machine. Not safe for concurrent use; the router serializes access.
type Engine struct {
	config     domain.PolicyConfig
	// filePolicy is the policy section of the last applied config file.
	filePolicy domain.PolicyConfig
	baseRules  domain.RuleOverrides
	overrides  domain.RuleOverrides
	registry   *policy.Registry
	classifier *policy.Classifier
	grading    []string

	tracker  *ViolationTracker
	block    *BlockMachine
	repo     *StateRepository
	notifier domain.Notifier
	logger   *zap.Logger

	contexts map[string]*contextState
	activity []domain.ActivityEntry

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine. Call Start before dispatching events.
func NewEngine(
	cfg EngineConfig,
	repo *StateRepository,
	block *BlockMachine,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Engine {
	base := policy.MergeRules(policy.BuiltinRules(), cfg.Rules)
	e := &Engine{
		config:     cfg.Policy,
		filePolicy: cfg.Policy,
		baseRules:  base,
		registry:   policy.NewRegistryWithRules(base),
		classifier: policy.NewClassifier(policy.MergeKeywords(policy.DefaultKeywords(), cfg.Keywords)),
		grading:    cfg.GradingKeywords,
		tracker:    NewViolationTracker(),
		block:      block,
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		contexts:   make(map[string]*contextState),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	block.OnExit(e.refreshContexts)
	return e
}

// Start loads persisted state: policy config, rule overrides, violation
// windows, activity log, and finally the block record.
func (e *Engine) Start(ctx context.Context) {
	e.config = e.repo.LoadPolicyConfig(ctx, e.config)

	if overrides, ok := e.repo.LoadRuleOverrides(ctx); ok {
		e.overrides = overrides
		e.registry = policy.NewRegistryWithRules(policy.MergeRules(e.baseRules, overrides))
	}

	e.tracker = NewViolationTrackerFromSnapshot(e.repo.LoadViolations(ctx))
	e.activity = e.repo.LoadActivityLog(ctx)
	if len(e.activity) > ActivityLogCap {
		e.activity = e.activity[len(e.activity)-ActivityLogCap:]
	}

	e.block.Restore(ctx, e.repo.LoadBlockState(ctx))

	e.logger.Info("policy engine started",
		zap.Bool("enabled", e.config.Enabled),
		zap.Int("violation_threshold", e.config.ViolationThreshold),
		zap.Int("block_duration_minutes", e.config.BlockDurationMinutes),
		zap.Bool("blocked", e.block.IsBlocked()))
}

// EvaluateNavigation runs the navigation path for contextID visiting rawURL.
func (e *Engine) EvaluateNavigation(ctx context.Context, contextID, rawURL string) {
	e.evaluate(ctx, contextID, rawURL, true)
}

// evaluate classifies a navigation. With count unset only the status is
// refreshed and the consecutive-violation counter is left alone.
func (e *Engine) evaluate(ctx context.Context, contextID, rawURL string, count bool) {
	url := policy.NormalizeURL(rawURL)
	e.contextFor(contextID).url = url

	ev := e.registry.Evaluate(url)

	if e.block.IsBlocked() && e.config.Enabled && ev.IsAI {
		e.logger.Info("redirecting blocked context",
			zap.String("context", contextID),
			zap.String("ai_tool", ev.AITool.Name))
		e.notifier.Publish(ctx, domain.RedirectRequested{ContextID: contextID})
		return
	}

	switch ev.Tier {
	case domain.Red:
		if count && e.config.Enabled {
			n := e.block.IncrementViolations(ctx)
			e.logger.Info("navigation violation",
				zap.String("context", contextID),
				zap.String("reason", ev.Reason),
				zap.Int("consecutive", n),
				zap.Int("threshold", e.config.ViolationThreshold))
			if n >= e.config.ViolationThreshold {
				e.block.EnterBlock(ctx, e.config.BlockDuration())
				return
			}
		}
	default:
		if count {
			e.block.ResetViolations(ctx)
		}
	}

	e.setStatus(ctx, contextID, url, ev.Tier, ev.Reason)
}

// RecordMessage classifies text and runs the message path. It returns the tier.
func (e *Engine) RecordMessage(ctx context.Context, contextID, text string, ts time.Time, platform string) domain.Tier {
	tier := e.classifier.Classify(text)
	if ts.IsZero() {
		ts = e.now()
	}

	e.tracker.Record(tier, ts)
	counts := e.tracker.Counts(e.now())
	e.repo.SaveViolations(ctx, e.tracker.Snapshot(), counts)

	e.logger.Debug("message classified",
		zap.String("context", contextID),
		zap.String("platform", platform),
		zap.Stringer("tier", tier),
		zap.Int("red_count", counts[domain.Red]))

	site := defaultMessageSite
	if c, ok := e.contexts[contextID]; ok && c.url != "" {
		site = c.url
	} else if platform != "" {
		site = platform
	}
	e.appendActivity(ctx, contextID, site, tier,
		fmt.Sprintf("%s message detected: \"%s...\"", strings.ToUpper(tier.String()), preview(text)))

	e.notifier.Publish(ctx, domain.CountsUpdated{ContextID: contextID, Tier: tier, Counts: counts})

	if tier == domain.Red &&
		counts[domain.Red] >= e.config.ViolationThreshold &&
		e.config.Enabled &&
		!e.block.IsBlocked() {
		e.block.EnterBlock(ctx, e.config.BlockDuration())
	}
	return tier
}

// ReportPageContext escalates an AI tool page that shows grading or
// submission content to Red. Neither counter is touched.
func (e *Engine) ReportPageContext(ctx context.Context, contextID, rawURL string, hasGradingKeywords bool, pageText string) {
	if !hasGradingKeywords && pageText != "" {
		hasGradingKeywords = policy.ContainsGradingKeywords(pageText, e.grading)
	}
	if !hasGradingKeywords {
		return
	}
	url := policy.NormalizeURL(rawURL)
	if _, ok := e.registry.MatchAIWebsite(url); !ok {
		return
	}
	e.contextFor(contextID).url = url
	e.setStatus(ctx, contextID, url, domain.Red, ReasonGradingPage)
}

// Status returns the last evaluation of contextID.
func (e *Engine) Status(contextID string) (domain.ContextStatus, bool) {
	c, ok := e.contexts[contextID]
	if !ok || !c.hasStatus {
		return domain.ContextStatus{ContextID: contextID, Tier: domain.Green}, false
	}
	return c.status, true
}

// BlockStatus returns the block record with the configured threshold.
func (e *Engine) BlockStatus() domain.BlockStatus {
	return e.block.Status(e.config.ViolationThreshold)
}

// ViolationCounts returns the per-tier window counts at the current time.
func (e *Engine) ViolationCounts() domain.ViolationCounts {
	return e.tracker.Counts(e.now())
}

// ActivityLog returns up to limit of the most recent entries, oldest first.
func (e *Engine) ActivityLog(limit int) []domain.ActivityEntry {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	start := 0
	if len(e.activity) > limit {
		start = len(e.activity) - limit
	}
	out := make([]domain.ActivityEntry, len(e.activity)-start)
	copy(out, e.activity[start:])
	return out
}

// ResetBlock ends any block, clears the consecutive counter and the Red window.
func (e *Engine) ResetBlock(ctx context.Context) {
	e.tracker.Reset(domain.Red)
	e.repo.SaveViolations(ctx, e.tracker.Snapshot(), e.tracker.Counts(e.now()))
	e.logger.Info("manual block reset")
	e.block.ExitBlock(ctx)
}

// BlockEnded handles the external "block ended" signal.
func (e *Engine) BlockEnded(ctx context.Context) {
	e.block.ExitBlock(ctx)
}

// BlockExpired handles the expiry timer for the block ending at end.
func (e *Engine) BlockExpired(ctx context.Context, end time.Time) {
	e.block.HandleExpired(ctx, end)
}

// CloseContext discards a context's state.
func (e *Engine) CloseContext(contextID string) {
	delete(e.contexts, contextID)
}

// Config returns the active policy config.
func (e *Engine) Config() domain.PolicyConfig {
	return e.config
}

// Rules returns the active rule set.
func (e *Engine) Rules() domain.RuleOverrides {
	return e.registry.List()
}

// ReconfigureRules replaces the user rule overrides and rebuilds the rule set.
func (e *Engine) ReconfigureRules(ctx context.Context, overrides domain.RuleOverrides) {
	e.overrides = overrides
	e.registry = policy.NewRegistryWithRules(policy.MergeRules(e.baseRules, overrides))
	e.repo.SaveRuleOverrides(ctx, overrides)
	e.logger.Info("rules reconfigured",
		zap.Int("ai_websites", len(e.registry.Rules(domain.CategoryAIWebsite))),
		zap.Int("academic_platforms", len(e.registry.Rules(domain.CategoryAcademicPlatform))))
}

// ReconfigurePolicy validates and replaces the policy config.
func (e *Engine) ReconfigurePolicy(ctx context.Context, cfg domain.PolicyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.config = cfg
	e.repo.SavePolicyConfig(ctx, cfg)
	e.logger.Info("policy reconfigured",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("violation_threshold", cfg.ViolationThreshold),
		zap.Int("block_duration_minutes", cfg.BlockDurationMinutes))
	return nil
}

// ApplyFileConfig swaps the file-level rules and keywords after a config file
// reload. User overrides stay on top. The policy section goes through
// ReconfigurePolicy only when it differs from the last applied file policy,
// so a runtime policy survives edits to other sections.
func (e *Engine) ApplyFileConfig(ctx context.Context, cfg EngineConfig) error {
	e.baseRules = policy.MergeRules(policy.BuiltinRules(), cfg.Rules)
	e.registry = policy.NewRegistryWithRules(policy.MergeRules(e.baseRules, e.overrides))
	e.classifier = policy.NewClassifier(policy.MergeKeywords(policy.DefaultKeywords(), cfg.Keywords))
	e.grading = cfg.GradingKeywords

	if cfg.Policy == e.filePolicy {
		return nil
	}
	if err := e.ReconfigurePolicy(ctx, cfg.Policy); err != nil {
		return err
	}
	e.filePolicy = cfg.Policy
	return nil
}

// refreshContexts re-evaluates every known context so status reflects the
// current navigation after a block ends. The counter was just cleared and
// stays cleared.
func (e *Engine) refreshContexts(ctx context.Context) {
	ids := make([]string, 0, len(e.contexts))
	for id, c := range e.contexts {
		if c.url != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if c, ok := e.contexts[id]; ok {
			e.evaluate(ctx, id, c.url, false)
		}
	}
}

func (e *Engine) contextFor(contextID string) *contextState {
	c, ok := e.contexts[contextID]
	if !ok {
		c = &contextState{}
		e.contexts[contextID] = c
	}
	return c
}

func (e *Engine) setStatus(ctx context.Context, contextID, url string, tier domain.Tier, reason string) {
	c := e.contextFor(contextID)
	c.status = domain.ContextStatus{ContextID: contextID, Tier: tier, Reason: reason}
	c.hasStatus = true

	e.notifier.Publish(ctx, domain.StatusChanged{
		ContextID: contextID,
		Tier:      tier,
		Reason:    reason,
		Blocked:   e.block.IsBlocked(),
	})
	e.appendActivity(ctx, contextID, url, tier, reason)
}

func (e *Engine) appendActivity(ctx context.Context, contextID, url string, tier domain.Tier, reason string) {
	e.activity = append(e.activity, domain.ActivityEntry{
		ID:        e.newID(),
		Timestamp: e.now().UTC(),
		ContextID: contextID,
		URL:       url,
		Tier:      tier,
		Reason:    reason,
	})
	if len(e.activity) > ActivityLogCap {
		e.activity = append([]domain.ActivityEntry(nil), e.activity[len(e.activity)-ActivityLogCap:]...)
	}
	e.repo.SaveActivityLog(ctx, e.activity)
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > messagePreviewLen {
		r = r[:messagePreviewLen]
	}
	return string(r)
}
