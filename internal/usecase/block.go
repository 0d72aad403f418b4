package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// BlockMachine owns the Unblocked/Blocked lifecycle and its single expiry timer.
// Not safe for concurrent use; the router serializes access and posts timer
// expiry back through SetExpiryHandler.
type BlockMachine struct {
	state     domain.BlockState
	repo      *StateRepository
	notifier  domain.Notifier
	scheduler domain.Scheduler
	logger    *zap.Logger

	timer  domain.Timer
	expire func(end time.Time)
	onExit func(ctx context.Context)
	now    func() time.Time
}

// NewBlockMachine creates an Unblocked machine. Call Restore to load persisted state.
func NewBlockMachine(
	repo *StateRepository,
	notifier domain.Notifier,
	scheduler domain.Scheduler,
	logger *zap.Logger,
) *BlockMachine {
	m := &BlockMachine{
		repo:      repo,
		notifier:  notifier,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
	m.expire = func(end time.Time) { m.HandleExpired(context.Background(), end) }
	return m
}

// SetExpiryHandler replaces what the timer calls when it fires. The router uses
// it to turn expiry into a queued command instead of running on the timer goroutine.
func (m *BlockMachine) SetExpiryHandler(fn func(end time.Time)) {
	m.expire = fn
}

// OnExit registers a hook run after every ExitBlock.
func (m *BlockMachine) OnExit(fn func(ctx context.Context)) {
	m.onExit = fn
}

// IsBlocked reports whether a block is active.
func (m *BlockMachine) IsBlocked() bool {
	return m.state.IsBlocked()
}

// State returns a copy of the block record.
func (m *BlockMachine) State() domain.BlockState {
	s := m.state
	if s.BlockEndTime != nil {
		end := *s.BlockEndTime
		s.BlockEndTime = &end
	}
	return s
}

// Status returns the read model for GetBlockStatus.
func (m *BlockMachine) Status(threshold int) domain.BlockStatus {
	s := m.State()
	return domain.BlockStatus{
		IsBlocked:                 s.IsBlocked(),
		BlockEndTime:              s.BlockEndTime,
		ConsecutiveViolationCount: s.ConsecutiveViolationCount,
		ViolationThreshold:        threshold,
	}
}

// Restore rebuilds the machine from a persisted record. A block that ends in
// the future is resumed with a timer for the remaining time; one that already
// ended is exited immediately.
func (m *BlockMachine) Restore(ctx context.Context, state domain.BlockState) {
	m.state = state
	if state.BlockEndTime == nil {
		return
	}

	end := *state.BlockEndTime
	remaining := end.Sub(m.now())
	if remaining <= 0 {
		m.logger.Info("block expired while host was down", zap.Time("block_end_time", end))
		m.ExitBlock(ctx)
		return
	}

	m.logger.Info("resuming block",
		zap.Time("block_end_time", end),
		zap.Duration("remaining", remaining))
	m.schedule(end, remaining)
}

// EnterBlock starts a block lasting d. It is a no-op while already blocked and
// reports whether a block was started.
func (m *BlockMachine) EnterBlock(ctx context.Context, d time.Duration) bool {
	if m.state.IsBlocked() {
		return false
	}

	end := m.now().Add(d)
	m.state.BlockEndTime = &end
	m.repo.SaveBlockState(ctx, m.state)

	m.schedule(end, d)

	m.logger.Info("block activated",
		zap.Time("block_end_time", end),
		zap.Duration("duration", d))
	m.notifier.Publish(ctx, domain.BlockActivated{BlockEndTime: end})
	return true
}

// ExitBlock ends any block and clears the consecutive-violation counter.
// It is idempotent; BlockDeactivated is published only when a block was active.
func (m *BlockMachine) ExitBlock(ctx context.Context) {
	m.cancelTimer()

	wasBlocked := m.state.IsBlocked()
	m.state.BlockEndTime = nil
	m.state.ConsecutiveViolationCount = 0
	m.repo.SaveBlockState(ctx, m.state)

	if wasBlocked {
		m.logger.Info("block deactivated")
		m.notifier.Publish(ctx, domain.BlockDeactivated{})
	}

	if m.onExit != nil {
		m.onExit(ctx)
	}
}

// HandleExpired is the timer callback for the block ending at end. A timer
// scheduled for an earlier block is ignored.
func (m *BlockMachine) HandleExpired(ctx context.Context, end time.Time) {
	if m.state.BlockEndTime == nil || !m.state.BlockEndTime.Equal(end) {
		m.logger.Debug("ignoring stale block timer", zap.Time("scheduled_end", end))
		return
	}
	m.timer = nil
	m.ExitBlock(ctx)
}

// IncrementViolations bumps the consecutive-violation counter and returns it.
func (m *BlockMachine) IncrementViolations(ctx context.Context) int {
	m.state.ConsecutiveViolationCount++
	m.repo.SaveBlockState(ctx, m.state)
	return m.state.ConsecutiveViolationCount
}

// ResetViolations zeroes the consecutive-violation counter if it is nonzero.
func (m *BlockMachine) ResetViolations(ctx context.Context) {
	if m.state.ConsecutiveViolationCount == 0 {
		return
	}
	m.state.ConsecutiveViolationCount = 0
	m.repo.SaveBlockState(ctx, m.state)
}

// Close stops the pending timer without changing state.
func (m *BlockMachine) Close() {
	m.cancelTimer()
}

func (m *BlockMachine) schedule(end time.Time, d time.Duration) {
	m.cancelTimer()
	expire := m.expire
	m.timer = m.scheduler.AfterFunc(d, func() { expire(end) })
}

func (m *BlockMachine) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
