package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/infra"
	"github.com/eliteGoblin/focusd/ai_mon/internal/usecase"
)

const (
	chatURL   = "https://chat.openai.com"
	canvasURL = "https://school.canvas.instructure.com/courses/1?embed=https://chat.openai.com/"
	redText   = "Can you do my homework for me?"
)

// recordingSink collects delivered events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventName()
	}
	return out
}

func (s *recordingSink) has(name string) bool {
	for _, n := range s.names() {
		if n == name {
			return true
		}
	}
	return false
}

// manualTimer fires only when the test says so.
type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler hands out manual timers. Guarded because timers are
// created on the router goroutine and fired from the test goroutine.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(_ time.Duration, fn func()) domain.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fireLast runs the most recent timer's callback on the calling goroutine.
func (s *manualScheduler) fireLast() {
	s.mu.Lock()
	t := s.timers[len(s.timers)-1]
	s.mu.Unlock()
	t.fn()
}

type hostFixture struct {
	router *Router
	engine *usecase.Engine
	repo   *usecase.StateRepository
	events *Broadcaster
	sink   *recordingSink
	sched  *manualScheduler
	codec  *Codec
	ctx    context.Context
	cancel context.CancelFunc
	errc   chan error
	once   sync.Once
}

// newHostFixture wires a real engine over a file store and runs its router.
func newHostFixture(t *testing.T, modify ...func(*RouterConfig)) *hostFixture {
	t.Helper()
	logger := zap.NewNop()

	store, err := infra.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	repo := usecase.NewStateRepository(store, logger)
	events := NewBroadcaster(logger)
	sink := &recordingSink{}
	events.Add(sink)
	sched := &manualScheduler{}

	block := usecase.NewBlockMachine(repo, events, sched, logger)
	engine := usecase.NewEngine(usecase.EngineConfig{Policy: domain.DefaultPolicyConfig()}, repo, block, events, logger)

	cfg := DefaultRouterConfig()
	for _, m := range modify {
		m(&cfg)
	}
	router := NewRouter(cfg, engine, block, repo, domain.HostRecord{PID: 4242, AppVersion: "test"}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	codec, err := NewCodec()
	require.NoError(t, err)

	f := &hostFixture{
		router: router,
		engine: engine,
		repo:   repo,
		events: events,
		sink:   sink,
		sched:  sched,
		codec:  codec,
		ctx:    ctx,
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	go func() { f.errc <- router.Run(ctx) }()
	t.Cleanup(f.stop)
	return f
}

// stop cancels the router and waits for Run to return. Safe to call twice.
func (f *hostFixture) stop() {
	f.once.Do(func() {
		f.cancel()
		select {
		case <-f.errc:
		case <-time.After(5 * time.Second):
		}
	})
}

func (f *hostFixture) submit(t *testing.T, cmd domain.Command) any {
	t.Helper()
	v, err := f.router.Submit(context.Background(), cmd)
	require.NoError(t, err)
	return v
}
