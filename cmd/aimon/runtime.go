package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/infra"
	"github.com/eliteGoblin/focusd/ai_mon/internal/usecase"
)

const callTimeout = 5 * time.Second

// runtime is the wired engine stack for one process.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  domain.StateStore
	repo   *usecase.StateRepository
	block  *usecase.BlockMachine
	engine *usecase.Engine
	events *daemon.Broadcaster
	router *daemon.Router
	codec  *daemon.Codec
}

// newRuntime opens the state store and wires the engine behind a router. The
// router's Run loop is not started.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, host domain.HostRecord) (*runtime, error) {
	store, err := infra.OpenStateStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	codec, err := daemon.NewCodec()
	if err != nil {
		store.Close()
		return nil, err
	}

	repo := usecase.NewStateRepository(store, logger)
	events := daemon.NewBroadcaster(logger)
	block := usecase.NewBlockMachine(repo, events, infra.NewTimeScheduler(), logger)
	engine := usecase.NewEngine(engineConfig(cfg), repo, block, events, logger)

	// The router must own expiry before Start restores a pending block timer.
	router := daemon.NewRouter(daemon.DefaultRouterConfig(), engine, block, repo, host, logger)
	engine.Start(ctx)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		repo:   repo,
		block:  block,
		engine: engine,
		events: events,
		router: router,
		codec:  codec,
	}, nil
}

// Close stops the block timer and closes the store.
func (r *runtime) Close() error {
	r.block.Close()
	return r.store.Close()
}

func engineConfig(cfg *config.Config) usecase.EngineConfig {
	return usecase.EngineConfig{
		Policy:          cfg.Policy,
		Rules:           cfg.Rules,
		Keywords:        cfg.Keywords,
		GradingKeywords: cfg.GradingKeywords,
	}
}

func reloadCommand(cfg *config.Config) domain.ReloadConfig {
	return domain.ReloadConfig{
		Policy:          cfg.Policy,
		Rules:           cfg.Rules,
		Keywords:        cfg.Keywords,
		GradingKeywords: cfg.GradingKeywords,
	}
}

// caller sends one command and decodes its result into out.
type caller interface {
	Call(ctx context.Context, cmd domain.Command, out any) error
	Close() error
}

var _ caller = (*daemon.Client)(nil)

// localCaller runs commands against an in-process router when no host is
// listening. Results go through JSON so callers see exactly what the socket
// would return.
type localCaller struct {
	rt     *runtime
	cancel context.CancelFunc
	done   chan struct{}
}

func newLocalCaller(rt *runtime) *localCaller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &localCaller{rt: rt, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		rt.router.Run(ctx)
	}()
	return c
}

func (c *localCaller) Call(ctx context.Context, cmd domain.Command, out any) error {
	value, err := c.rt.router.Submit(ctx, cmd)
	if err != nil {
		return err
	}
	if out == nil || value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s result: %w", cmd.CommandName(), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", cmd.CommandName(), err)
	}
	return nil
}

func (c *localCaller) Close() error {
	c.cancel()
	<-c.done
	return c.rt.Close()
}

var _ caller = (*localCaller)(nil)

// connect dials the running host, or falls back to the stored state. remote
// reports which one was used.
func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (c caller, remote bool, err error) {
	client, err := daemon.Dial(ctx, cfg.SocketPath())
	if err == nil {
		return client, true, nil
	}
	if !errors.Is(err, daemon.ErrHostNotRunning) {
		return nil, false, err
	}
	logger.Debug("host not running, using stored state", zap.String("socket", cfg.SocketPath()))

	rt, err := newRuntime(ctx, cfg, logger, domain.HostRecord{})
	if err != nil {
		return nil, false, err
	}
	return newLocalCaller(rt), false, nil
}

// withCaller loads the config, connects, and runs fn with a call timeout.
func withCaller(fn func(ctx context.Context, c caller, remote bool) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	c, remote, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c, remote)
}
