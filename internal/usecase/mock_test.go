package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// mockStore implements domain.StateStore in memory
type mockStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	putErr  error
	puts    int
	deletes []string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *mockStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	delete(m.data, key)
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) putJSON(t *testing.T, key string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	m.data[key] = data
}

// mockNotifier records published events
type mockNotifier struct {
	events []domain.Event
}

func (m *mockNotifier) Publish(_ context.Context, e domain.Event) {
	m.events = append(m.events, e)
}

func (m *mockNotifier) named(name string) []domain.Event {
	var out []domain.Event
	for _, e := range m.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockNotifier) last() domain.Event {
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockNotifier) reset() {
	m.events = nil
}

// mockTimer is a scheduled callback fired by hand
type mockTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *mockTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *mockTimer) fire() {
	t.fired = true
	t.fn()
}

// mockScheduler implements domain.Scheduler without real time
type mockScheduler struct {
	timers []*mockTimer
}

func (s *mockScheduler) AfterFunc(d time.Duration, fn func()) domain.Timer {
	t := &mockTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *mockScheduler) pending() []*mockTimer {
	var out []*mockTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fakeClock is a settable time source
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type engineFixture struct {
	engine    *Engine
	block     *BlockMachine
	repo      *StateRepository
	store     *mockStore
	notifier  *mockNotifier
	scheduler *mockScheduler
	clock     *fakeClock
}

func newEngineFixture(t *testing.T, cfg EngineConfig, store *mockStore) *engineFixture {
	t.Helper()
	if store == nil {
		store = newMockStore()
	}
	logger := zap.NewNop()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	notifier := &mockNotifier{}
	scheduler := &mockScheduler{}
	repo := NewStateRepository(store, logger)
	block := NewBlockMachine(repo, notifier, scheduler, logger)
	block.now = clock.now

	engine := NewEngine(cfg, repo, block, notifier, logger)
	engine.now = clock.now
	ids := 0
	engine.newID = func() string {
		ids++
		return fmt.Sprintf("entry-%d", ids)
	}

	return &engineFixture{
		engine:    engine,
		block:     block,
		repo:      repo,
		store:     store,
		notifier:  notifier,
		scheduler: scheduler,
		clock:     clock,
	}
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{Policy: domain.DefaultPolicyConfig()}
}
