package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// StateRepository maps typed installation state onto the opaque key/value store.
// Failures are logged and reported as "not loaded" or ignored: no operation
// waits on persistence succeeding.
type StateRepository struct {
	store  domain.StateStore
	logger *zap.Logger
}

// NewStateRepository wraps a store.
func NewStateRepository(store domain.StateStore, logger *zap.Logger) *StateRepository {
	return &StateRepository{store: store, logger: logger}
}

// persistedBlockState is the stored block record. IsBlocked is kept for
// readers of the raw store.
type persistedBlockState struct {
	IsBlocked                 bool   `json:"is_blocked"`
	BlockEndTime              *int64 `json:"block_end_time,omitempty"`
	ConsecutiveViolationCount int    `json:"consecutive_violation_count"`
}

func (r *StateRepository) load(ctx context.Context, key string, v any) bool {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("failed to read state", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Warn("failed to decode state", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (r *StateRepository) save(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("failed to encode state", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.store.Put(ctx, key, data); err != nil {
		r.logger.Warn("failed to write state", zap.String("key", key), zap.Error(err))
	}
}

// LoadBlockState returns the persisted block record, or the zero record.
func (r *StateRepository) LoadBlockState(ctx context.Context) domain.BlockState {
	var p persistedBlockState
	if !r.load(ctx, domain.KeyBlockState, &p) {
		return domain.BlockState{}
	}
	state := domain.BlockState{ConsecutiveViolationCount: p.ConsecutiveViolationCount}
	if p.BlockEndTime != nil {
		end := time.UnixMilli(*p.BlockEndTime)
		state.BlockEndTime = &end
	}
	return state
}

// SaveBlockState persists the block record.
func (r *StateRepository) SaveBlockState(ctx context.Context, state domain.BlockState) {
	p := persistedBlockState{
		IsBlocked:                 state.IsBlocked(),
		ConsecutiveViolationCount: state.ConsecutiveViolationCount,
	}
	if state.BlockEndTime != nil {
		ms := state.BlockEndTime.UnixMilli()
		p.BlockEndTime = &ms
	}
	r.save(ctx, domain.KeyBlockState, p)
}

// LoadPolicyConfig merges the persisted config over base field by field.
// Absent fields keep base values and out-of-range fields fall back to defaults.
func (r *StateRepository) LoadPolicyConfig(ctx context.Context, base domain.PolicyConfig) domain.PolicyConfig {
	cfg := base
	if !r.load(ctx, domain.KeyPolicyConfig, &cfg) {
		return base
	}
	if err := cfg.Validate(); err != nil {
		r.logger.Warn("persisted policy config out of range, using defaults for bad fields", zap.Error(err))
		cfg = cfg.Sanitize()
	}
	return cfg
}

// SavePolicyConfig persists the policy config.
func (r *StateRepository) SavePolicyConfig(ctx context.Context, cfg domain.PolicyConfig) {
	r.save(ctx, domain.KeyPolicyConfig, cfg)
}

// LoadRuleOverrides returns the persisted user rule overrides.
func (r *StateRepository) LoadRuleOverrides(ctx context.Context) (domain.RuleOverrides, bool) {
	var o domain.RuleOverrides
	ok := r.load(ctx, domain.KeyRuleOverrides, &o)
	return o, ok
}

// SaveRuleOverrides persists user rule overrides.
func (r *StateRepository) SaveRuleOverrides(ctx context.Context, o domain.RuleOverrides) {
	r.save(ctx, domain.KeyRuleOverrides, o)
}

// LoadViolations returns the persisted window timestamps.
func (r *StateRepository) LoadViolations(ctx context.Context) TimestampSnapshot {
	snap := TimestampSnapshot{}
	if !r.load(ctx, domain.KeyCounterTimestamps, &snap) {
		return TimestampSnapshot{}
	}
	return snap
}

// SaveViolations persists window timestamps and their counts.
func (r *StateRepository) SaveViolations(ctx context.Context, snap TimestampSnapshot, counts domain.ViolationCounts) {
	r.save(ctx, domain.KeyCounters, counts)
	r.save(ctx, domain.KeyCounterTimestamps, snap)
}

// LoadActivityLog returns the persisted activity log.
func (r *StateRepository) LoadActivityLog(ctx context.Context) []domain.ActivityEntry {
	var entries []domain.ActivityEntry
	r.load(ctx, domain.KeyActivityLog, &entries)
	return entries
}

// SaveActivityLog persists the activity log.
func (r *StateRepository) SaveActivityLog(ctx context.Context, entries []domain.ActivityEntry) {
	r.save(ctx, domain.KeyActivityLog, entries)
}

// LoadHostRecord returns the record of the last started host.
func (r *StateRepository) LoadHostRecord(ctx context.Context) (domain.HostRecord, bool) {
	var rec domain.HostRecord
	ok := r.load(ctx, domain.KeyHostRecord, &rec)
	return rec, ok
}

// SaveHostRecord persists the record of the running host.
func (r *StateRepository) SaveHostRecord(ctx context.Context, rec domain.HostRecord) {
	r.save(ctx, domain.KeyHostRecord, rec)
}

// ClearHostRecord removes the host record on clean shutdown.
func (r *StateRepository) ClearHostRecord(ctx context.Context) {
	if err := r.store.Delete(ctx, domain.KeyHostRecord); err != nil {
		r.logger.Warn("failed to clear host record", zap.Error(err))
	}
}
