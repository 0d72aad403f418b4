package domain

import "time"

// Command is an inbound request to the policy core.
// The set is closed: only types in this file implement it.
type Command interface {
	CommandName() string
	isCommand()
}

// EvaluateNavigation runs the navigation path for a context.
type EvaluateNavigation struct {
	ContextID string `json:"context_id"`
	URL       string `json:"url"`
}

// ClassifyAndRecord classifies a submitted message and runs the message path.
type ClassifyAndRecord struct {
	ContextID string    `json:"context_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Platform  string    `json:"platform,omitempty"`
}

// ReportPageContext carries page hints found by the content collaborator.
// PageText, when sent, is scanned for grading keywords by the host.
type ReportPageContext struct {
	ContextID          string `json:"context_id"`
	URL                string `json:"url"`
	HasGradingKeywords bool   `json:"has_grading_keywords"`
	PageText           string `json:"page_text,omitempty"`
}

// GetStatus asks for the current tier of a context.
type GetStatus struct {
	ContextID string `json:"context_id"`
}

// GetBlockStatus asks for the block record.
type GetBlockStatus struct{}

// GetViolationCounts asks for the per-tier window counts.
type GetViolationCounts struct{}

// GetActivityLog asks for the most recent activity entries.
type GetActivityLog struct {
	Limit int `json:"limit,omitempty"`
}

// ResetBlock forces the block to end and clears the counters.
type ResetBlock struct{}

// BlockEnded is the external "block ended" signal (e.g. from the overlay countdown).
type BlockEnded struct{}

// CloseContext discards the state of a closed context.
type CloseContext struct {
	ContextID string `json:"context_id"`
}

// GetRules asks for the active rule set.
type GetRules struct{}

// GetPolicy asks for the active policy config.
type GetPolicy struct{}

// ReconfigureRules replaces the user rule overrides.
type ReconfigureRules struct {
	Overrides RuleOverrides `json:"overrides"`
}

// ReconfigurePolicy replaces the policy config.
type ReconfigurePolicy struct {
	Config PolicyConfig `json:"config"`
}

// ReloadConfig applies a reloaded config file. Posted by the host's file
// watcher; not accepted from the wire.
type ReloadConfig struct {
	Policy          PolicyConfig  `json:"policy"`
	Rules           RuleOverrides `json:"rules"`
	Keywords        Keywords      `json:"keywords"`
	GradingKeywords []string      `json:"grading_keywords,omitempty"`
}

// BlockExpired is posted by the expiry timer for the end time it was scheduled with.
type BlockExpired struct {
	EndTime time.Time `json:"end_time"`
}

func (EvaluateNavigation) CommandName() string { return "EvaluateNavigation" }
func (ClassifyAndRecord) CommandName() string  { return "ClassifyAndRecord" }
func (ReportPageContext) CommandName() string  { return "ReportPageContext" }
func (GetStatus) CommandName() string          { return "GetStatus" }
func (GetBlockStatus) CommandName() string     { return "GetBlockStatus" }
func (GetViolationCounts) CommandName() string { return "GetViolationCounts" }
func (GetActivityLog) CommandName() string     { return "GetActivityLog" }
func (ResetBlock) CommandName() string         { return "ResetBlock" }
func (BlockEnded) CommandName() string         { return "BlockEnded" }
func (CloseContext) CommandName() string       { return "CloseContext" }
func (GetRules) CommandName() string           { return "GetRules" }
func (GetPolicy) CommandName() string          { return "GetPolicy" }
func (ReconfigureRules) CommandName() string   { return "ReconfigureRules" }
func (ReconfigurePolicy) CommandName() string  { return "ReconfigurePolicy" }
func (ReloadConfig) CommandName() string       { return "ReloadConfig" }
func (BlockExpired) CommandName() string       { return "BlockExpired" }

func (EvaluateNavigation) isCommand() {}
func (ClassifyAndRecord) isCommand()  {}
func (ReportPageContext) isCommand()  {}
func (GetStatus) isCommand()          {}
func (GetBlockStatus) isCommand()     {}
func (GetViolationCounts) isCommand() {}
func (GetActivityLog) isCommand()     {}
func (ResetBlock) isCommand()         {}
func (BlockEnded) isCommand()         {}
func (CloseContext) isCommand()       {}
func (GetRules) isCommand()           {}
func (GetPolicy) isCommand()          {}
func (ReconfigureRules) isCommand()   {}
func (ReconfigurePolicy) isCommand()  {}
func (ReloadConfig) isCommand()       {}
func (BlockExpired) isCommand()       {}
