package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/usecase"
)

// ErrRouterStopped is returned by Submit once Run has returned.
var ErrRouterStopped = errors.New("router stopped")

// RouterConfig holds router configuration.
type RouterConfig struct {
	QueueSize         int           // Pending commands before Submit blocks
	HeartbeatInterval time.Duration // How often to refresh the host record
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueSize:         64,
		HeartbeatInterval: 30 * time.Second,
	}
}

// TierResult answers ClassifyAndRecord.
type TierResult struct {
	Tier domain.Tier `json:"tier"`
}

type job struct {
	ctx   context.Context
	cmd   domain.Command
	reply chan result
}

type result struct {
	value any
	err   error
}

// Router is the single owner of the engine. Every command, including timer
// expiry, goes through one queue and is handled to completion before the next.
type Router struct {
	config RouterConfig
	engine *usecase.Engine
	repo   *usecase.StateRepository
	host   domain.HostRecord
	logger *zap.Logger

	now   func() time.Time
	queue chan job
	done  chan struct{}
}

// NewRouter creates a router for engine and redirects block expiry into its
// queue. Call before engine.Start so restored timers post here too. A host
// record with a zero PID is never persisted.
func NewRouter(
	config RouterConfig,
	engine *usecase.Engine,
	block *usecase.BlockMachine,
	repo *usecase.StateRepository,
	host domain.HostRecord,
	logger *zap.Logger,
) *Router {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultRouterConfig().QueueSize
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultRouterConfig().HeartbeatInterval
	}
	r := &Router{
		config: config,
		engine: engine,
		repo:   repo,
		host:   host,
		logger: logger,
		now:    time.Now,
		queue:  make(chan job, config.QueueSize),
		done:   make(chan struct{}),
	}
	block.SetExpiryHandler(func(end time.Time) {
		r.Post(domain.BlockExpired{EndTime: end})
	})
	return r
}

// Run processes commands until ctx is canceled.
// This blocks until context is canceled.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)

	if r.host.PID != 0 {
		r.host.HeartbeatAt = r.now()
		r.repo.SaveHostRecord(ctx, r.host)
		defer r.repo.ClearHostRecord(context.Background())
	}

	r.logger.Info("router started",
		zap.Int("pid", r.host.PID),
		zap.Int("queue_size", r.config.QueueSize))

	heartbeatTicker := time.NewTicker(r.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router stopping")
			return ctx.Err()

		case j := <-r.queue:
			value, err := r.dispatch(j.ctx, j.cmd)
			if err != nil {
				r.logger.Debug("command failed",
					zap.String("command", j.cmd.CommandName()),
					zap.Error(err))
			}
			if j.reply != nil {
				j.reply <- result{value: value, err: err}
			}

		case <-heartbeatTicker.C:
			if r.host.PID != 0 {
				r.host.HeartbeatAt = r.now()
				r.repo.SaveHostRecord(ctx, r.host)
			}
		}
	}
}

// Submit queues cmd and waits for its result.
func (r *Router) Submit(ctx context.Context, cmd domain.Command) (any, error) {
	j := job{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}
	select {
	case r.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrRouterStopped
	}
	select {
	case res := <-j.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrRouterStopped
	}
}

// Post queues cmd without waiting for it. Dropped once the router has stopped.
func (r *Router) Post(cmd domain.Command) {
	select {
	case r.queue <- job{ctx: context.Background(), cmd: cmd}:
	case <-r.done:
		r.logger.Debug("router stopped, dropping command", zap.String("command", cmd.CommandName()))
	}
}

func (r *Router) dispatch(ctx context.Context, cmd domain.Command) (any, error) {
	switch c := cmd.(type) {
	case domain.EvaluateNavigation:
		r.engine.EvaluateNavigation(ctx, c.ContextID, c.URL)
		return nil, nil

	case domain.ClassifyAndRecord:
		tier := r.engine.RecordMessage(ctx, c.ContextID, c.Text, c.Timestamp, c.Platform)
		return TierResult{Tier: tier}, nil

	case domain.ReportPageContext:
		r.engine.ReportPageContext(ctx, c.ContextID, c.URL, c.HasGradingKeywords, c.PageText)
		return nil, nil

	case domain.GetStatus:
		status, _ := r.engine.Status(c.ContextID)
		return status, nil

	case domain.GetBlockStatus:
		return r.engine.BlockStatus(), nil

	case domain.GetViolationCounts:
		return r.engine.ViolationCounts(), nil

	case domain.GetActivityLog:
		return r.engine.ActivityLog(c.Limit), nil

	case domain.ResetBlock:
		r.engine.ResetBlock(ctx)
		return r.engine.BlockStatus(), nil

	case domain.BlockEnded:
		r.engine.BlockEnded(ctx)
		return nil, nil

	case domain.CloseContext:
		r.engine.CloseContext(c.ContextID)
		return nil, nil

	case domain.GetRules:
		return r.engine.Rules(), nil

	case domain.GetPolicy:
		return r.engine.Config(), nil

	case domain.ReconfigureRules:
		r.engine.ReconfigureRules(ctx, c.Overrides)
		return r.engine.Rules(), nil

	case domain.ReconfigurePolicy:
		if err := r.engine.ReconfigurePolicy(ctx, c.Config); err != nil {
			return nil, err
		}
		return r.engine.Config(), nil

	case domain.ReloadConfig:
		return nil, r.engine.ApplyFileConfig(ctx, usecase.EngineConfig{
			Policy:          c.Policy,
			Rules:           c.Rules,
			Keywords:        c.Keywords,
			GradingKeywords: c.GradingKeywords,
		})

	case domain.BlockExpired:
		r.engine.BlockExpired(ctx, c.EndTime)
		return nil, nil
	}
	return nil, ErrUnknownCommand
}
