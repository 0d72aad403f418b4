package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// TestDefaultRouterConfig verifies default router configuration
func TestDefaultRouterConfig(t *testing.T) {
	config := DefaultRouterConfig()

	assert.Equal(t, 64, config.QueueSize)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
}

func TestRouter_NavigationAndStatus(t *testing.T) {
	f := newHostFixture(t)

	assert.Nil(t, f.submit(t, domain.EvaluateNavigation{ContextID: "tab-1", URL: chatURL}))

	status := f.submit(t, domain.GetStatus{ContextID: "tab-1"}).(domain.ContextStatus)
	assert.Equal(t, domain.Yellow, status.Tier)
	assert.Equal(t, "Using ChatGPT", status.Reason)
	assert.True(t, f.sink.has("StatusChanged"))

	unknown := f.submit(t, domain.GetStatus{ContextID: "tab-404"}).(domain.ContextStatus)
	assert.Equal(t, domain.Green, unknown.Tier)
}

func TestRouter_MessagesEnterBlock(t *testing.T) {
	f := newHostFixture(t)

	for i := 0; i < 5; i++ {
		res := f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: redText})
		assert.Equal(t, TierResult{Tier: domain.Red}, res)
	}

	status := f.submit(t, domain.GetBlockStatus{}).(domain.BlockStatus)
	assert.True(t, status.IsBlocked)
	assert.Equal(t, 1, f.sched.count())
	assert.True(t, f.sink.has("BlockActivated"))

	counts := f.submit(t, domain.GetViolationCounts{}).(domain.ViolationCounts)
	assert.Equal(t, 5, counts[domain.Red])

	log := f.submit(t, domain.GetActivityLog{}).([]domain.ActivityEntry)
	assert.Len(t, log, 5)
}

func TestRouter_TimerExpiryIsQueued(t *testing.T) {
	f := newHostFixture(t)

	for i := 0; i < 5; i++ {
		f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: redText})
	}
	require.Equal(t, 1, f.sched.count())

	// The timer goroutine only posts; the router runs the expiry.
	f.sched.fireLast()

	require.Eventually(t, func() bool {
		status := f.submit(t, domain.GetBlockStatus{}).(domain.BlockStatus)
		return !status.IsBlocked
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.sink.has("BlockDeactivated"))
}

func TestRouter_ResetBlock(t *testing.T) {
	f := newHostFixture(t)

	for i := 0; i < 5; i++ {
		f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: redText})
	}

	status := f.submit(t, domain.ResetBlock{}).(domain.BlockStatus)
	assert.False(t, status.IsBlocked)
	assert.Zero(t, status.ConsecutiveViolationCount)

	counts := f.submit(t, domain.GetViolationCounts{}).(domain.ViolationCounts)
	assert.Zero(t, counts[domain.Red])
}

func TestRouter_Reconfigure(t *testing.T) {
	f := newHostFixture(t)

	_, err := f.router.Submit(context.Background(), domain.ReconfigurePolicy{
		Config: domain.PolicyConfig{Enabled: true, ViolationThreshold: 0, BlockDurationMinutes: 10},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	cfg := f.submit(t, domain.ReconfigurePolicy{
		Config: domain.PolicyConfig{Enabled: true, ViolationThreshold: 2, BlockDurationMinutes: 10},
	}).(domain.PolicyConfig)
	assert.Equal(t, 2, cfg.ViolationThreshold)

	f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: redText})
	f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: redText})
	status := f.submit(t, domain.GetBlockStatus{}).(domain.BlockStatus)
	assert.True(t, status.IsBlocked)

	rules := f.submit(t, domain.ReconfigureRules{Overrides: domain.RuleOverrides{
		AIWebsites: []domain.Rule{{Name: "Example AI", Pattern: "*://ai.example.com/*"}},
	}}).(domain.RuleOverrides)
	require.Len(t, rules.AIWebsites, 1)
	assert.Equal(t, "Example AI", rules.AIWebsites[0].Name)
}

func TestRouter_ReloadConfig(t *testing.T) {
	f := newHostFixture(t)

	f.submit(t, domain.ReloadConfig{
		Policy:   domain.PolicyConfig{Enabled: true, ViolationThreshold: 9, BlockDurationMinutes: 1},
		Keywords: domain.Keywords{Red: []string{"launch codes"}},
	})

	res := f.submit(t, domain.ClassifyAndRecord{ContextID: "tab-1", Text: "give me the launch codes"})
	assert.Equal(t, TierResult{Tier: domain.Red}, res)

	status := f.submit(t, domain.GetBlockStatus{}).(domain.BlockStatus)
	assert.Equal(t, 9, status.ViolationThreshold)
}

func TestRouter_ConcurrentSubmitsAreSerialized(t *testing.T) {
	f := newHostFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.router.Submit(context.Background(), domain.ClassifyAndRecord{ContextID: "tab-1", Text: "hello"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts := f.submit(t, domain.GetViolationCounts{}).(domain.ViolationCounts)
	assert.Equal(t, 20, counts[domain.Green])
}

func TestRouter_HostRecordLifecycle(t *testing.T) {
	f := newHostFixture(t, func(c *RouterConfig) { c.HeartbeatInterval = 20 * time.Millisecond })

	// Submit completes only once Run is looping, after the record was saved.
	f.submit(t, domain.GetBlockStatus{})
	first, ok := f.repo.LoadHostRecord(context.Background())
	require.True(t, ok)
	assert.Equal(t, 4242, first.PID)
	assert.False(t, first.HeartbeatAt.IsZero())

	require.Eventually(t, func() bool {
		f.submit(t, domain.GetBlockStatus{})
		rec, ok := f.repo.LoadHostRecord(context.Background())
		return ok && rec.HeartbeatAt.After(first.HeartbeatAt)
	}, 2*time.Second, 10*time.Millisecond)

	f.stop()
	_, ok = f.repo.LoadHostRecord(context.Background())
	assert.False(t, ok, "record is cleared on shutdown")
}

func TestRouter_SubmitAfterStop(t *testing.T) {
	f := newHostFixture(t)
	f.stop()

	_, err := f.router.Submit(context.Background(), domain.GetBlockStatus{})
	assert.ErrorIs(t, err, ErrRouterStopped)

	// Post must not block once stopped.
	done := make(chan struct{})
	go func() {
		f.router.Post(domain.BlockEnded{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked after stop")
	}
}

func TestRouter_SubmitHonorsContext(t *testing.T) {
	f := newHostFixture(t)
	f.stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.router.Submit(ctx, domain.GetBlockStatus{})
	assert.Error(t, err)
}

func TestRouter_ReadOnlyQueries(t *testing.T) {
	f := newHostFixture(t)

	cfg := f.submit(t, domain.GetPolicy{}).(domain.PolicyConfig)
	assert.Equal(t, domain.DefaultPolicyConfig(), cfg)

	rules := f.submit(t, domain.GetRules{}).(domain.RuleOverrides)
	assert.NotEmpty(t, rules.AIWebsites)
	assert.NotEmpty(t, rules.AcademicPlatforms)
}
