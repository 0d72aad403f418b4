// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tier is the severity classification of an observation. Green < Yellow < Red.
type Tier int

const (
	Green Tier = iota
	Yellow
	Red
)

// Tiers lists every tier from lowest to highest severity.
var Tiers = [...]Tier{Green, Yellow, Red}

func (t Tier) String() string {
	switch t {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps "green", "yellow" or "red" (any case) to a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return Green, nil
	case "yellow":
		return Yellow, nil
	case "red":
		return Red, nil
	}
	return Green, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText lets tiers be used as JSON object keys.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Category groups site rules. Matching is done per category.
type Category string

const (
	CategoryAIWebsite        Category = "ai_websites"
	CategoryAcademicPlatform Category = "academic_platforms"
)

// Rule is a named site pattern. Pattern is a restricted glob where "*" matches
// any sequence and every other character is literal.
type Rule struct {
	Name     string   `json:"name" yaml:"name" toml:"name"`
	Pattern  string   `json:"pattern" yaml:"pattern" toml:"pattern"`
	Tier     Tier     `json:"tier" yaml:"-" toml:"-"`
	Category Category `json:"category,omitempty" yaml:"-" toml:"-"`
}

// RuleOverrides holds user supplied rule lists keyed by category.
// A present (non-nil) list replaces the built-in list for that category.
type RuleOverrides struct {
	AIWebsites        []Rule `json:"ai_websites,omitempty" yaml:"ai_websites" toml:"ai_websites"`
	AcademicPlatforms []Rule `json:"academic_platforms,omitempty" yaml:"academic_platforms" toml:"academic_platforms"`
}

// IsEmpty reports whether no category is overridden.
func (o RuleOverrides) IsEmpty() bool {
	return o.AIWebsites == nil && o.AcademicPlatforms == nil
}

// Keywords are the per-tier substring lists used to classify messages.
// A nil list keeps the built-in list for that tier.
type Keywords struct {
	Red    []string `json:"red,omitempty" yaml:"red" toml:"red"`
	Yellow []string `json:"yellow,omitempty" yaml:"yellow" toml:"yellow"`
	Green  []string `json:"green,omitempty" yaml:"green" toml:"green"`
}

// ContextStatus is the last evaluation of one monitored context (e.g. a browser tab).
type ContextStatus struct {
	ContextID string `json:"context_id"`
	Tier      Tier   `json:"tier"`
	Reason    string `json:"reason"`
}

// PolicyConfig controls the block lifecycle.
type PolicyConfig struct {
	Enabled              bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	ViolationThreshold   int  `json:"violation_threshold" yaml:"violation_threshold" toml:"violation_threshold"`
	BlockDurationMinutes int  `json:"block_duration_minutes" yaml:"block_duration_minutes" toml:"block_duration_minutes"`
}

// BlockDuration returns the configured block length.
func (c PolicyConfig) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationMinutes) * time.Minute
}

// BlockState is the persisted block/snooze record.
// IsBlocked is always equal to BlockEndTime != nil.
type BlockState struct {
	BlockEndTime              *time.Time `json:"block_end_time,omitempty"`
	ConsecutiveViolationCount int        `json:"consecutive_violation_count"`
}

// IsBlocked reports whether a block end time is set.
func (s BlockState) IsBlocked() bool {
	return s.BlockEndTime != nil
}

// BlockStatus is the read model answered to GetBlockStatus.
type BlockStatus struct {
	IsBlocked                 bool       `json:"is_blocked"`
	BlockEndTime              *time.Time `json:"block_end_time,omitempty"`
	ConsecutiveViolationCount int        `json:"consecutive_violation_count"`
	ViolationThreshold        int        `json:"violation_threshold"`
}

// Remaining returns how long the block still lasts at now, zero when unblocked.
func (s BlockStatus) Remaining(now time.Time) time.Duration {
	if s.BlockEndTime == nil {
		return 0
	}
	if d := s.BlockEndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ViolationCounts maps each tier to the number of events within the retention window.
type ViolationCounts map[Tier]int

// ActivityEntry is one line of the capped activity log.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ContextID string    `json:"context_id"`
	URL       string    `json:"url"`
	Tier      Tier      `json:"tier"`
	Reason    string    `json:"reason"`
}

// HostRecord identifies the running host process for the status command.
type HostRecord struct {
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	AppVersion  string    `json:"app_version,omitempty"`
	SocketPath  string    `json:"socket_path,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// IsStale reports whether the heartbeat is older than maxAge at now.
func (r HostRecord) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.HeartbeatAt) > maxAge
}

// ErrInvalidConfig is returned when a policy config violates its bounds.
var ErrInvalidConfig = errors.New("invalid policy config")

// MaxBlockDurationMinutes caps a block at one week.
const MaxBlockDurationMinutes = 7 * 24 * 60

// DefaultPolicyConfig returns the built-in policy config.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Enabled:              true,
		ViolationThreshold:   5,
		BlockDurationMinutes: 10,
	}
}

// Validate checks violation_threshold >= 1 and block_duration_minutes in
// [1, MaxBlockDurationMinutes].
func (c PolicyConfig) Validate() error {
	if c.ViolationThreshold < 1 {
		return fmt.Errorf("%w: violation_threshold must be >= 1, got %d", ErrInvalidConfig, c.ViolationThreshold)
	}
	if c.BlockDurationMinutes <= 0 || c.BlockDurationMinutes > MaxBlockDurationMinutes {
		return fmt.Errorf("%w: block_duration_minutes must be in [1, %d], got %d",
			ErrInvalidConfig, MaxBlockDurationMinutes, c.BlockDurationMinutes)
	}
	return nil
}

// Sanitize replaces out-of-range fields with their defaults.
func (c PolicyConfig) Sanitize() PolicyConfig {
	def := DefaultPolicyConfig()
	if c.ViolationThreshold < 1 {
		c.ViolationThreshold = def.ViolationThreshold
	}
	if c.BlockDurationMinutes <= 0 || c.BlockDurationMinutes > MaxBlockDurationMinutes {
		c.BlockDurationMinutes = def.BlockDurationMinutes
	}
	return c
}
